// Package bot is the Telegram front end of the booking portal.
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tileworks/internal/api"
	"tileworks/internal/attachments"
	"tileworks/internal/booking"
	"tileworks/internal/events"
	"tileworks/internal/inflight"
	"tileworks/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options configures a Bot.
type Options struct {
	// NewClient builds the gateway for one session.
	NewClient  func(creds api.Credentials) *api.Client
	Persister  session.Persister
	Bus        *events.Bus
	Checker    api.CredentialChecker
	PageSize   int
	Limits     attachments.Limits
	PreviewDir string
	Debug      bool
	Logger     *zerolog.Logger
}

// Bot serves customers and admins over Telegram. Updates are handled one at a time.
type Bot struct {
	tg         telegramClient
	newClient  func(creds api.Credentials) *api.Client
	persister  session.Persister
	bus        *events.Bus
	checker    api.CredentialChecker
	pageSize   int
	limits     attachments.Limits
	previewDir string
	httpClient *http.Client
	logger     *zerolog.Logger
	visitors   *visitors
	now        func() time.Time
	edits      *booking.UpdateValidator
	unsub      []func()
}

func New(token string, opts Options) (*Bot, error) {
	tg, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	tg.Debug = opts.Debug
	return newBot(&realTelegramClient{api: tg}, opts)
}

// NewWithTelegramClient allows injecting a mocked Telegram client for tests.
func NewWithTelegramClient(tg telegramClient, opts Options) (*Bot, error) {
	return newBot(tg, opts)
}

func newBot(tg telegramClient, opts Options) (*Bot, error) {
	if tg == nil {
		return nil, fmt.Errorf("telegram client is nil")
	}
	if opts.NewClient == nil || opts.Persister == nil {
		return nil, fmt.Errorf("api client factory and session persister are required")
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Checker == nil {
		opts.Checker = api.NopChecker{}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	if opts.Limits == (attachments.Limits{}) {
		opts.Limits = attachments.DefaultLimits()
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	b := &Bot{
		tg:         tg,
		newClient:  opts.NewClient,
		persister:  opts.Persister,
		bus:        opts.Bus,
		checker:    opts.Checker,
		pageSize:   opts.PageSize,
		limits:     opts.Limits,
		previewDir: opts.PreviewDir,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		visitors:   newVisitors(),
		now:        time.Now,
	}
	b.edits = booking.NewUpdateValidator(func() time.Time { return b.now() })
	b.unsub = append(b.unsub, b.bus.Subscribe(events.SessionForcedLogout, b.onForcedLogout))
	return b, nil
}

var (
	guestMenu = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("🧱 Book a job"),
			tgbotapi.NewKeyboardButton("🛠 Services"),
		),
	)

	customerMenu = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("🧱 Book a job"),
			tgbotapi.NewKeyboardButton("📌 My bookings"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("🛠 Services"),
			tgbotapi.NewKeyboardButton("🚪 Log out"),
		),
	)

	adminMenu = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("📥 All bookings"),
			tgbotapi.NewKeyboardButton("📅 Calendar"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("🔔 Notifications"),
			tgbotapi.NewKeyboardButton("📊 Export"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("🧱 Book a job"),
			tgbotapi.NewKeyboardButton("🚪 Log out"),
		),
	)
)

func (b *Bot) sendMainMenu(v *visitor, text string) {
	msg := tgbotapi.NewMessage(v.chatID, text)
	switch {
	case v.store.IsAdmin():
		msg.ReplyMarkup = adminMenu
	case v.store.IsAuthenticated():
		msg.ReplyMarkup = customerMenu
	default:
		msg.ReplyMarkup = guestMenu
	}
	_, _ = b.tg.Send(msg)
}

// Start begins polling updates and handles them until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	defer b.stop()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.tg.GetUpdatesChan(u)
	b.logger.Info().Str("username", b.tg.SelfUser().UserName).Msg("booking bot authorized")

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			requestID := uuid.New().String()
			l := b.logger.With().Str("request_id", requestID).Logger()
			b.handleUpdate(l.WithContext(ctx), &update)
		}
	}
}

func (b *Bot) stop() {
	for _, u := range b.unsub {
		u()
	}
	b.visitors.mu.Lock()
	defer b.visitors.mu.Unlock()
	for _, v := range b.visitors.byID {
		v.closeViews()
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	l := zerolog.Ctx(ctx)
	if update.CallbackQuery != nil {
		l.Debug().
			Int64("user_id", update.CallbackQuery.From.ID).
			Str("data", update.CallbackQuery.Data).
			Msg("Handling callback query")
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message != nil && update.Message.From != nil {
		l.Debug().
			Int64("user_id", update.Message.From.ID).
			Str("text", update.Message.Text).
			Msg("Handling message")
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	v := b.visitor(ctx, msg.From.ID, msg.Chat.ID)
	text := strings.TrimSpace(msg.Text)

	if len(msg.Photo) > 0 || msg.Document != nil {
		b.handleUpload(ctx, v, msg)
		return
	}

	switch {
	case strings.HasPrefix(text, "/start"):
		v.resetWizard()
		b.sendMainMenu(v, "Welcome to Tileworks. Choose an action:")
		return
	case strings.HasPrefix(text, "/help"):
		b.reply(v.chatID, helpText)
		return
	case strings.HasPrefix(text, "/login"):
		b.handleLogin(ctx, v, strings.TrimSpace(strings.TrimPrefix(text, "/login")))
		return
	case strings.HasPrefix(text, "/logout") || text == "🚪 Log out":
		b.handleLogout(ctx, v)
		return
	case strings.HasPrefix(text, "/whoami"):
		b.handleWhoAmI(ctx, v)
		return
	case strings.HasPrefix(text, "/services") || text == "🛠 Services":
		b.sendServices(v)
		return
	case strings.HasPrefix(text, "/bookings") || text == "📥 All bookings":
		b.handleAdminBookings(ctx, v, 0)
		return
	case strings.HasPrefix(text, "/book") || text == "🧱 Book a job":
		b.startWizard(ctx, v)
		return
	case strings.HasPrefix(text, "/cancel"):
		v.resetWizard()
		v.closeEdit()
		b.sendMainMenu(v, "Cancelled.")
		return
	case strings.HasPrefix(text, "/mybookings") || text == "📌 My bookings":
		b.handleMyBookings(ctx, v, 0)
		return
	case strings.HasPrefix(text, "/calendar") || text == "📅 Calendar":
		b.handleCalendar(ctx, v)
		return
	case strings.HasPrefix(text, "/notifications") || text == "🔔 Notifications":
		b.handleNotifications(ctx, v, 0)
		return
	case strings.HasPrefix(text, "/export") || text == "📊 Export":
		b.handleExport(ctx, v)
		return
	}

	switch {
	case strings.HasPrefix(v.awaiting, "edit:"):
		b.handleEditInput(ctx, v, strings.TrimPrefix(v.awaiting, "edit:"), text)
	case v.awaiting != "" && v.wizard != nil:
		b.handleWizardInput(ctx, v, v.awaiting, text)
	default:
		b.sendMainMenu(v, "Choose an action:")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq == nil || cq.Message == nil {
		return
	}
	_ = b.answerCallback(cq.ID)
	data := cq.Data
	if data == "noop" {
		return
	}
	v := b.visitor(ctx, cq.From.ID, cq.Message.Chat.ID)

	switch {
	case strings.HasPrefix(data, "wiz:"):
		b.handleWizardCallback(ctx, v, strings.TrimPrefix(data, "wiz:"))
	case strings.HasPrefix(data, "mine:"):
		b.handleMineCallback(ctx, v, strings.TrimPrefix(data, "mine:"))
	case strings.HasPrefix(data, "edit:"):
		b.handleEditCallback(ctx, v, strings.TrimPrefix(data, "edit:"))
	case strings.HasPrefix(data, "adm:"):
		b.handleAdminCallback(ctx, v, strings.TrimPrefix(data, "adm:"))
	case strings.HasPrefix(data, "cal:"):
		b.handleCalendarCallback(ctx, v, strings.TrimPrefix(data, "cal:"))
	case strings.HasPrefix(data, "ntf:"):
		b.handleNotificationCallback(ctx, v, strings.TrimPrefix(data, "ntf:"))
	}
}

// onForcedLogout tells the user their session ended instead of silently
// dropping them back at the guest menu.
func (b *Bot) onForcedLogout(e events.Event) {
	v := b.lookup(e.Owner)
	if v == nil {
		return
	}
	v.closeViews()
	b.logger.Info().Str("owner", e.Owner).Str("reason", e.Reason).Msg("notifying user of forced logout")
	b.sendMainMenu(v, "Your session has ended. Please sign in again with /login.")
}

// requireAuth replies with a sign-in hint and returns false when v is signed out.
func (b *Bot) requireAuth(v *visitor) bool {
	if v.store.IsAuthenticated() {
		return true
	}
	b.reply(v.chatID, "Please sign in first: /login <google-id-token>")
	return false
}

func (b *Bot) requireAdmin(v *visitor) bool {
	if !b.requireAuth(v) {
		return false
	}
	if !v.store.IsAdmin() {
		b.reply(v.chatID, "This section is for administrators.")
		return false
	}
	return true
}

// reportError turns an operation error into an inline message. Authorization
// failures have already been announced by onForcedLogout.
func (b *Bot) reportError(ctx context.Context, v *visitor, action string, err error) {
	if errors.Is(err, api.ErrUnauthorized) {
		return
	}
	zerolog.Ctx(ctx).Warn().Err(err).Str("action", action).Msg("operation failed")

	var apiErr *api.APIError
	switch {
	case errors.As(err, &apiErr):
		b.reply(v.chatID, fmt.Sprintf("⚠️ Could not %s: %s", action, apiErr.Message))
	case errors.Is(err, inflight.ErrBusy):
		b.reply(v.chatID, "⏳ Still working on the previous request, please wait.")
	default:
		b.reply(v.chatID, fmt.Sprintf("⚠️ Could not %s. Please try again.", action))
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	_, _ = b.tg.Send(msg)
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	_, _ = b.tg.Send(msg)
}

func (b *Bot) answerCallback(id string) error {
	_, err := b.tg.Request(tgbotapi.NewCallback(id, ""))
	return err
}

const helpText = `Commands:
/login <token> sign in with a Google ID token
/book start a new booking
/mybookings view and edit your bookings
/services list our services
/logout sign out

Admins: /bookings, /calendar, /notifications, /export`
