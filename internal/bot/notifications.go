package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"tileworks/internal/notifications"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) handleNotifications(ctx context.Context, v *visitor, page int) {
	if !b.requireAdmin(v) {
		return
	}
	if v.feed == nil {
		v.feed = notifications.NewFeed(v.client, b.pageSize, b.logger)
	}
	feed := v.feed
	if err := feed.FetchPage(ctx, page); err != nil {
		b.reportError(ctx, v, "load notifications", err)
		return
	}
	b.sendFeed(v, feed)
}

func (b *Bot) sendFeed(v *visitor, feed *notifications.Feed) {
	items := feed.Items()
	if len(items) == 0 {
		b.reply(v.chatID, "No notifications.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔔 %d unread\n", feed.Unread())
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, n := range items {
		mark := "•"
		if !n.IsRead {
			mark = "🆕"
		}
		fmt.Fprintf(&sb, "\n%d. %s %s (%s)", i+1, mark, n.Message, n.CreatedAt.Format("2 Jan 15:04"))
		if !n.IsRead {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Mark %d read", i+1), "ntf:read:"+n.ID),
			))
		}
	}
	p, total := feed.Page()
	if row := pagerRow("ntf", p, total); len(row) > 0 {
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		b.reply(v.chatID, sb.String())
		return
	}
	b.replyWithKeyboard(v.chatID, sb.String(), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) handleNotificationCallback(ctx context.Context, v *visitor, data string) {
	if !b.requireAdmin(v) {
		return
	}
	switch {
	case strings.HasPrefix(data, "page:"):
		page, _ := strconv.Atoi(strings.TrimPrefix(data, "page:"))
		b.handleNotifications(ctx, v, page)
	case strings.HasPrefix(data, "read:"):
		feed := v.feed
		if feed == nil {
			return
		}
		if err := feed.MarkRead(ctx, strings.TrimPrefix(data, "read:")); err != nil {
			b.reportError(ctx, v, "mark the notification read", err)
			if v.feed != feed {
				return
			}
		}
		b.sendFeed(v, feed)
	}
}
