package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tileworks/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

func (b *Bot) handleLogin(ctx context.Context, v *visitor, credential string) {
	if credential == "" {
		b.reply(v.chatID, "Usage: /login <google-id-token>")
		return
	}
	if err := b.checker.Check(ctx, credential); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("google credential rejected")
		b.reply(v.chatID, "⚠️ That Google sign-in could not be verified.")
		return
	}

	res, err := v.client.SignInWithGoogle(ctx, credential)
	if err != nil {
		b.reportError(ctx, v, "sign in", err)
		return
	}
	if err := v.store.Establish(ctx, res.Token, res.User); err != nil {
		b.reportError(ctx, v, "sign in", err)
		return
	}
	v.closeViews()
	b.sendMainMenu(v, fmt.Sprintf("Signed in as %s.", displayName(res.User)))
}

func (b *Bot) handleLogout(ctx context.Context, v *visitor) {
	v.closeViews()
	if err := v.store.Logout(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("logout")
	}
	b.sendMainMenu(v, "You have been signed out.")
}

// handleWhoAmI refreshes the user snapshot from the backend.
func (b *Bot) handleWhoAmI(ctx context.Context, v *visitor) {
	if !b.requireAuth(v) {
		return
	}
	u, err := v.client.Me(ctx)
	if err != nil {
		b.reportError(ctx, v, "load your profile", err)
		return
	}
	if err := v.store.SetUser(ctx, *u); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("save user snapshot")
	}
	text := fmt.Sprintf("%s\n%s\nRole: %s", displayName(*u), u.Email, u.Role)
	if d := v.store.ExpiresIn(); d > 0 {
		text += "\nSession expires in " + untilText(d)
	}
	b.reply(v.chatID, text)
}

func untilText(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	return strings.TrimSuffix(d.Round(time.Minute).String(), "0s")
}

func (b *Bot) sendServices(v *visitor) {
	var sb strings.Builder
	sb.WriteString("Our services:\n")
	for _, s := range model.Services {
		fmt.Fprintf(&sb, "\n• %s: %s", s.Name, s.Description)
	}
	msg := tgbotapi.NewMessage(v.chatID, sb.String())
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🧱 Book a job", "wiz:start")),
	)
	_, _ = b.tg.Send(msg)
}

func displayName(u model.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
