package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tileworks/internal/calendar"
	"tileworks/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var weekdayHeader = []string{"Mo", "Tu", "We", "Th", "Fr", "Sa", "Su"}

// calendarKeyboard renders a month grid. Blocked days are marked and fill days from
// neighbouring months are dimmed.
func calendarKeyboard(view *calendar.View) tgbotapi.InlineKeyboardMarkup {
	g := view.Grid()
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(g.Weeks)+3)

	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s %d", g.Month, g.Year), "cal:noop"),
	})
	header := make([]tgbotapi.InlineKeyboardButton, 0, 7)
	for _, d := range weekdayHeader {
		header = append(header, tgbotapi.NewInlineKeyboardButtonData(d, "cal:noop"))
	}
	rows = append(rows, header)

	for _, week := range g.Weeks {
		row := make([]tgbotapi.InlineKeyboardButton, 0, 7)
		for _, d := range week {
			label := fmt.Sprintf("%d", d.Date.Day())
			if !d.InMonth {
				label = "·"
			}
			if _, blocked := view.Blocked(d.Date); blocked {
				label = "⛔" + label
			}
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, "cal:day:"+d.Key()))
		}
		rows = append(rows, row)
	}

	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅️", "cal:prev"),
		tgbotapi.NewInlineKeyboardButtonData("🔄", "cal:refresh"),
		tgbotapi.NewInlineKeyboardButtonData("➡️", "cal:next"),
	})
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (b *Bot) handleCalendar(ctx context.Context, v *visitor) {
	if !b.requireAdmin(v) {
		return
	}
	if v.cal == nil {
		v.cal = calendar.NewView(v.client, b.logger)
	}
	view := v.cal
	now := b.now()
	if err := view.Show(ctx, now.Year(), now.Month()); err != nil {
		b.reportError(ctx, v, "load the calendar", err)
		return
	}
	b.sendCalendar(v, view)
}

func (b *Bot) sendCalendar(v *visitor, view *calendar.View) {
	text := fmt.Sprintf("Blocked dates: %d this month.", view.BlockedCount())
	b.replyWithKeyboard(v.chatID, text, calendarKeyboard(view))
}

func (b *Bot) handleCalendarCallback(ctx context.Context, v *visitor, data string) {
	if !b.requireAdmin(v) {
		return
	}
	view := v.cal
	if view == nil {
		b.reply(v.chatID, "Open /calendar first.")
		return
	}

	var err error
	switch {
	case data == "noop":
		return
	case data == "prev":
		err = view.Prev(ctx)
	case data == "next":
		err = view.Next(ctx)
	case data == "refresh":
		err = view.Refresh(ctx)
	case strings.HasPrefix(data, "day:"):
		b.describeDay(v, view, strings.TrimPrefix(data, "day:"))
		return
	default:
		return
	}
	if err != nil {
		b.reportError(ctx, v, "load the calendar", err)
		return
	}
	b.sendCalendar(v, view)
}

func (b *Bot) describeDay(v *visitor, view *calendar.View, key string) {
	day, err := time.Parse(model.DateLayout, key)
	if err != nil {
		return
	}
	bd, ok := view.Blocked(day)
	if !ok {
		b.reply(v.chatID, fmt.Sprintf("%s is open.", day.Format("Mon 2 Jan 2006")))
		return
	}
	text := fmt.Sprintf("⛔ %s is blocked.", day.Format("Mon 2 Jan 2006"))
	if bd.Reason != "" {
		text += "\nReason: " + bd.Reason
	}
	if bd.Booking != nil {
		text += "\nBooking: " + bd.Booking.BookingRef
	}
	b.reply(v.chatID, text)
}
