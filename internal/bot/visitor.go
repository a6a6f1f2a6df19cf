package bot

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"tileworks/internal/api"
	"tileworks/internal/attachments"
	"tileworks/internal/booking"
	"tileworks/internal/calendar"
	"tileworks/internal/notifications"
	"tileworks/internal/reconcile"
	"tileworks/internal/session"

	"github.com/rs/zerolog"
)

// visitor is everything one Telegram user has open: their session and the views
// built on it. Views are created lazily and closed when the session ends.
type visitor struct {
	userID int64
	chatID int64
	store  *session.Store
	client *api.Client

	wizard   *booking.Wizard
	staged   *attachments.Manager
	prompt   int
	awaiting string

	mine  *reconcile.Collection
	admin *reconcile.Collection
	cal   *calendar.View
	feed  *notifications.Feed
	edit  *editState
}

// editState is an owner edit of one booking in progress.
type editState struct {
	bookingID string
	update    api.BookingUpdate
	files     *attachments.Manager
}

func (v *visitor) resetWizard() {
	if v.staged != nil {
		v.staged.Close()
	}
	v.wizard = nil
	v.staged = nil
	v.prompt = 0
	v.awaiting = ""
}

func (v *visitor) closeEdit() {
	if v.edit != nil && v.edit.files != nil {
		v.edit.files.Close()
	}
	v.edit = nil
	if strings.HasPrefix(v.awaiting, "edit:") {
		v.awaiting = ""
	}
}

// closeViews detaches every view; late API results for them are dropped.
func (v *visitor) closeViews() {
	v.resetWizard()
	v.closeEdit()
	if v.mine != nil {
		v.mine.Close()
		v.mine = nil
	}
	if v.admin != nil {
		v.admin.Close()
		v.admin = nil
	}
	if v.cal != nil {
		v.cal.Close()
		v.cal = nil
	}
	if v.feed != nil {
		v.feed.Close()
		v.feed = nil
	}
}

type visitors struct {
	mu   sync.Mutex
	byID map[int64]*visitor
}

func newVisitors() *visitors {
	return &visitors{byID: make(map[int64]*visitor)}
}

// visitor returns the visitor for userID, restoring a persisted session on first contact.
func (b *Bot) visitor(ctx context.Context, userID, chatID int64) *visitor {
	b.visitors.mu.Lock()
	v, ok := b.visitors.byID[userID]
	if !ok {
		owner := strconv.FormatInt(userID, 10)
		store := session.NewStore(owner, b.persister, b.bus, b.logger)
		v = &visitor{userID: userID, store: store, client: b.newClient(store)}
		b.visitors.byID[userID] = v
	}
	v.chatID = chatID
	b.visitors.mu.Unlock()

	if !ok {
		if err := v.store.Restore(ctx); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Int64("user_id", userID).Msg("restore session")
		}
	}
	return v
}

func (b *Bot) lookup(owner string) *visitor {
	id, err := strconv.ParseInt(owner, 10, 64)
	if err != nil {
		return nil
	}
	b.visitors.mu.Lock()
	defer b.visitors.mu.Unlock()
	return b.visitors.byID[id]
}
