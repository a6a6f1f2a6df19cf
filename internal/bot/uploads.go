package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"tileworks/internal/api"
	"tileworks/internal/attachments"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// handleUpload stages a photo or document into whichever form is open.
func (b *Bot) handleUpload(ctx context.Context, v *visitor, msg *tgbotapi.Message) {
	var mgr *attachments.Manager
	switch {
	case v.edit != nil:
		mgr = v.edit.files
	case v.staged != nil:
		mgr = v.staged
	default:
		b.reply(v.chatID, "Start a booking with /book or edit one from /mybookings to attach files.")
		return
	}

	fileID, name, size := uploadRef(msg)
	if size > b.limits.MaxFileBytes {
		b.reply(v.chatID, fmt.Sprintf("⚠️ %s is larger than %s.", name, humanBytes(b.limits.MaxFileBytes)))
		return
	}
	data, err := b.download(ctx, fileID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("file_id", fileID).Msg("download telegram file")
		b.reply(v.chatID, "⚠️ Could not read that file, please send it again.")
		return
	}

	err = mgr.Stage([]attachments.Selected{{Filename: name, Data: data}})
	switch {
	case err == nil:
		b.reply(v.chatID, fmt.Sprintf("📎 Attached %s.", name))
	case errors.Is(err, attachments.ErrTooMany):
		b.reply(v.chatID, fmt.Sprintf("⚠️ You can attach at most %d files.", b.limits.MaxFiles))
	case errors.Is(err, attachments.ErrTooLarge), errors.Is(err, attachments.ErrTotalTooLarge):
		b.reply(v.chatID, "⚠️ "+err.Error())
	case errors.Is(err, attachments.ErrUnsupportedType):
		b.reply(v.chatID, "⚠️ Only photos and PDF files can be attached.")
	default:
		b.reportError(ctx, v, "attach the file", err)
		return
	}

	if v.edit != nil {
		b.sendEditMenu(ctx, v)
	} else if v.wizard != nil && v.awaiting == "" {
		b.sendReview(v)
	}
}

func uploadRef(msg *tgbotapi.Message) (fileID, name string, size int64) {
	if msg.Document != nil {
		name = msg.Document.FileName
		if name == "" {
			name = "document"
		}
		return msg.Document.FileID, name, int64(msg.Document.FileSize)
	}
	// Telegram lists photo sizes smallest first.
	p := msg.Photo[len(msg.Photo)-1]
	return p.FileID, p.FileUniqueID + ".jpg", int64(p.FileSize)
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.tg.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, b.limits.MaxFileBytes+1))
}

func humanBytes(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	}
	return fmt.Sprintf("%d KB", (n+1023)>>10)
}

// userMessage is the text shown for a failed operation.
func userMessage(err error) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
