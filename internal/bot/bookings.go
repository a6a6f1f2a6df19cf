package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tileworks/internal/api"
	"tileworks/internal/attachments"
	"tileworks/internal/booking"
	"tileworks/internal/export"
	"tileworks/internal/inflight"
	"tileworks/internal/model"
	"tileworks/internal/reconcile"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var statusLabels = map[model.Status]string{
	model.StatusPending:   "⏳ pending",
	model.StatusConfirmed: "✅ confirmed",
	model.StatusCompleted: "🏁 completed",
	model.StatusCancelled: "❌ cancelled",
}

var actionLabels = map[model.Status]string{
	model.StatusConfirmed: "Confirm",
	model.StatusCancelled: "Cancel",
	model.StatusCompleted: "Complete",
}

func bookingSummary(bk *model.Booking) string {
	svc := bk.ServiceID
	if s, ok := model.ServiceByID(bk.ServiceID); ok {
		svc = s.Name
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s · %s\n", bk.BookingRef, statusLabels[bk.Status])
	fmt.Fprintf(&sb, "%s in %s %s\n", svc, bk.Suburb, bk.Postcode)
	when := bk.PreferredDate
	if d := bk.Date(); !d.IsZero() {
		when = d.Format("Mon 2 Jan 2006")
	}
	fmt.Fprintf(&sb, "%s, %s", when, bk.TimeSlot)
	if bk.Description != "" {
		fmt.Fprintf(&sb, "\n%s", bk.Description)
	}
	if n := len(bk.Files); n > 0 {
		fmt.Fprintf(&sb, "\n📎 %d file(s)", n)
	}
	return sb.String()
}

func pagerRow(prefix string, page, total int) []tgbotapi.InlineKeyboardButton {
	var row []tgbotapi.InlineKeyboardButton
	if page > 0 {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("⬅️", fmt.Sprintf("%s:page:%d", prefix, page-1)))
	}
	if page+1 < total {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("➡️", fmt.Sprintf("%s:page:%d", prefix, page+1)))
	}
	return row
}

// My bookings.

func (b *Bot) handleMyBookings(ctx context.Context, v *visitor, page int) {
	if !b.requireAuth(v) {
		return
	}
	if v.mine == nil {
		v.mine = reconcile.NewCollection(v.client, reconcile.ScopeCustomer, b.pageSize, b.logger, reconcile.WithUpdateValidator(b.edits))
	}
	col := v.mine
	if err := col.FetchPage(ctx, page); err != nil {
		b.reportError(ctx, v, "load your bookings", err)
		return
	}

	list := col.Bookings()
	if len(list) == 0 {
		b.reply(v.chatID, "You have no bookings yet. Start one with /book.")
		return
	}
	for i := range list {
		bk := &list[i]
		msg := tgbotapi.NewMessage(v.chatID, bookingSummary(bk))
		if bk.Editable() {
			msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✏️ Edit", "mine:edit:"+bk.ID),
			))
		}
		_, _ = b.tg.Send(msg)
	}
	p, total := col.Page()
	if row := pagerRow("mine", p, total); len(row) > 0 {
		b.replyWithKeyboard(v.chatID, fmt.Sprintf("Page %d of %d", p+1, total), tgbotapi.NewInlineKeyboardMarkup(row))
	}
}

func (b *Bot) handleMineCallback(ctx context.Context, v *visitor, data string) {
	switch {
	case strings.HasPrefix(data, "page:"):
		page, _ := strconv.Atoi(strings.TrimPrefix(data, "page:"))
		b.handleMyBookings(ctx, v, page)
	case strings.HasPrefix(data, "edit:"):
		b.startEdit(ctx, v, strings.TrimPrefix(data, "edit:"))
	}
}

// Owner edits.

var editFields = []choice{
	{"Date", "preferredDate"},
	{"Time slot", "timeSlot"},
	{"Description", "description"},
	{"Suburb", "suburb"},
	{"Postcode", "postcode"},
	{"Job size", "jobSize"},
	{"Phone", "customerPhone"},
}

func (b *Bot) startEdit(ctx context.Context, v *visitor, id string) {
	if !b.requireAuth(v) || v.mine == nil {
		return
	}
	bk, ok := v.mine.Get(id)
	if !ok {
		b.reply(v.chatID, "That booking is no longer listed. Open /mybookings again.")
		return
	}
	if !bk.Editable() {
		b.reply(v.chatID, "This booking can no longer be changed.")
		return
	}
	v.resetWizard()
	v.closeEdit()

	files := attachments.NewManager(v.client,
		attachments.WithLimits(b.limits),
		attachments.WithPreviewDir(b.previewDir),
		attachments.WithLogger(b.logger),
	)
	files.Refresh(bk.Files)
	v.edit = &editState{bookingID: id, files: files}
	b.sendEditMenu(ctx, v)
}

func (b *Bot) sendEditMenu(_ context.Context, v *visitor) {
	e := v.edit
	bk, _ := v.mine.Get(e.bookingID)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Editing %s\n", bk.BookingRef)
	if changes := describeUpdate(e.update); changes != "" {
		sb.WriteString("Pending changes:\n" + changes)
	}

	rows := [][]tgbotapi.InlineKeyboardButton{}
	row := []tgbotapi.InlineKeyboardButton{}
	for _, f := range editFields {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(f.label, "edit:field:"+f.value))
		if len(row) == 3 {
			rows = append(rows, row)
			row = []tgbotapi.InlineKeyboardButton{}
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	for _, a := range e.files.List() {
		switch f := a.(type) {
		case *attachments.Persisted:
			label := "🗑 " + f.Name()
			if f.Deleting || e.files.Deleting(f.ID) {
				label = "⏳ deleting " + f.Name()
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, "edit:del:"+f.ID)))
		case *attachments.Staged:
			fmt.Fprintf(&sb, "\n📎 new: %s (%s)", f.Name(), humanBytes(f.Size()))
		}
	}
	if len(e.files.Persisted()) > 1 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🗑 Delete all files", "edit:delall")))
	}
	sb.WriteString("\nSend photos or PDF files to add them.")

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✖️ Close", "edit:close"),
		tgbotapi.NewInlineKeyboardButtonData("💾 Save", "edit:save"),
	))
	b.replyWithKeyboard(v.chatID, sb.String(), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func describeUpdate(u api.BookingUpdate) string {
	var sb strings.Builder
	add := func(label string, val *string) {
		if val != nil {
			fmt.Fprintf(&sb, "• %s: %s\n", label, *val)
		}
	}
	add("Date", u.PreferredDate)
	if u.TimeSlot != nil {
		fmt.Fprintf(&sb, "• Time slot: %s\n", *u.TimeSlot)
	}
	add("Description", u.Description)
	add("Suburb", u.Suburb)
	add("Postcode", u.Postcode)
	if u.JobSize != nil {
		fmt.Fprintf(&sb, "• Job size: %s\n", *u.JobSize)
	}
	add("Phone", u.CustomerPhone)
	return sb.String()
}

func (b *Bot) handleEditCallback(ctx context.Context, v *visitor, data string) {
	if v.edit == nil || v.mine == nil {
		b.reply(v.chatID, "This edit has expired. Open /mybookings again.")
		return
	}
	e := v.edit

	switch {
	case strings.HasPrefix(data, "field:"):
		field := strings.TrimPrefix(data, "field:")
		v.awaiting = "edit:" + field
		switch field {
		case "timeSlot":
			b.replyWithKeyboard(v.chatID, "New time slot:", tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Morning", "edit:set:timeSlot:morning"),
				tgbotapi.NewInlineKeyboardButtonData("Afternoon", "edit:set:timeSlot:afternoon"),
				tgbotapi.NewInlineKeyboardButtonData("Flexible", "edit:set:timeSlot:flexible"),
			)))
		case "jobSize":
			b.replyWithKeyboard(v.chatID, "New job size:", tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Small", "edit:set:jobSize:small"),
				tgbotapi.NewInlineKeyboardButtonData("Medium", "edit:set:jobSize:medium"),
				tgbotapi.NewInlineKeyboardButtonData("Large", "edit:set:jobSize:large"),
			)))
		default:
			b.reply(v.chatID, "Send the new value:")
		}
	case strings.HasPrefix(data, "set:"):
		parts := strings.SplitN(strings.TrimPrefix(data, "set:"), ":", 2)
		if len(parts) == 2 {
			b.handleEditInput(ctx, v, parts[0], parts[1])
		}
	case strings.HasPrefix(data, "del:"):
		id := strings.TrimPrefix(data, "del:")
		if err := e.files.DeleteOne(ctx, id); err != nil {
			b.reportError(ctx, v, "delete the file", err)
		}
		if v.edit == e {
			b.sendEditMenu(ctx, v)
		}
	case data == "delall":
		var ids []string
		for _, f := range e.files.Persisted() {
			ids = append(ids, f.ID)
		}
		if err := e.files.DeleteMany(ctx, ids); err != nil {
			b.reportError(ctx, v, "delete the files", err)
		}
		if v.edit == e {
			b.sendEditMenu(ctx, v)
		}
	case data == "save":
		b.saveEdit(ctx, v)
	case data == "close":
		v.closeEdit()
		b.reply(v.chatID, "Edit closed.")
	}
}

func (b *Bot) handleEditInput(ctx context.Context, v *visitor, field, value string) {
	if v.edit == nil {
		v.awaiting = ""
		return
	}
	var change api.BookingUpdate
	switch field {
	case "preferredDate":
		change.PreferredDate = &value
	case "timeSlot":
		ts := model.TimeSlot(value)
		change.TimeSlot = &ts
	case "description":
		change.Description = &value
	case "suburb":
		change.Suburb = &value
	case "postcode":
		change.Postcode = &value
	case "jobSize":
		js := model.JobSize(value)
		change.JobSize = &js
	case "customerPhone":
		change.CustomerPhone = &value
	default:
		return
	}
	if err := b.edits.Validate(&change); err != nil {
		var verrs booking.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			b.reply(v.chatID, "⚠️ "+verrs[0].Message)
			return
		}
		b.reportError(ctx, v, "check your change", err)
		return
	}
	v.edit.update.Merge(change)
	v.awaiting = ""
	b.sendEditMenu(ctx, v)
}

func (b *Bot) saveEdit(ctx context.Context, v *visitor) {
	e, col := v.edit, v.mine
	updated, err := col.Update(ctx, e.bookingID, e.update, e.files)
	if err != nil {
		if errors.Is(err, reconcile.ErrNotEditable) {
			b.reply(v.chatID, "This booking has been confirmed or cancelled and can no longer be changed.")
			v.closeEdit()
			return
		}
		b.reportError(ctx, v, "save your changes", err)
		return
	}
	if v.edit == e {
		e.update = api.BookingUpdate{}
	}
	b.reply(v.chatID, "💾 Saved.\n\n"+bookingSummary(updated))
}

// Admin bookings.

func (b *Bot) handleAdminBookings(ctx context.Context, v *visitor, page int) {
	if !b.requireAdmin(v) {
		return
	}
	if v.admin == nil {
		v.admin = reconcile.NewCollection(v.client, reconcile.ScopeAdmin, b.pageSize, b.logger)
	}
	col := v.admin
	if err := col.FetchPage(ctx, page); err != nil {
		b.reportError(ctx, v, "load bookings", err)
		return
	}
	list := col.Bookings()
	if len(list) == 0 {
		b.reply(v.chatID, "No bookings.")
		return
	}
	for i := range list {
		b.sendAdminBooking(v, col, &list[i])
	}
	p, total := col.Page()
	if row := pagerRow("adm", p, total); len(row) > 0 {
		b.replyWithKeyboard(v.chatID, fmt.Sprintf("Page %d of %d", p+1, total), tgbotapi.NewInlineKeyboardMarkup(row))
	}
}

func (b *Bot) sendAdminBooking(v *visitor, col *reconcile.Collection, bk *model.Booking) {
	text := bookingSummary(bk)
	if bk.User != nil {
		text += fmt.Sprintf("\n👤 %s <%s>", bk.User.Name, bk.User.Email)
	} else if bk.CustomerName != "" {
		text += fmt.Sprintf("\n👤 %s <%s>", bk.CustomerName, bk.CustomerEmail)
	}
	if bk.CustomerPhone != "" {
		text += "\n📞 " + bk.CustomerPhone
	}
	msg := tgbotapi.NewMessage(v.chatID, text)

	var row []tgbotapi.InlineKeyboardButton
	if !col.Busy(bk.ID) {
		for _, s := range model.NextStatuses(bk.Status) {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(actionLabels[s], fmt.Sprintf("adm:st:%s:%s", s, bk.ID)))
		}
	}
	if len(row) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	}
	_, _ = b.tg.Send(msg)
}

func (b *Bot) handleAdminCallback(ctx context.Context, v *visitor, data string) {
	if !b.requireAdmin(v) {
		return
	}
	col := v.admin
	if col == nil {
		b.reply(v.chatID, "Open /bookings first.")
		return
	}

	switch {
	case strings.HasPrefix(data, "page:"):
		page, _ := strconv.Atoi(strings.TrimPrefix(data, "page:"))
		b.handleAdminBookings(ctx, v, page)
	case strings.HasPrefix(data, "st:"):
		parts := strings.SplitN(strings.TrimPrefix(data, "st:"), ":", 2)
		if len(parts) != 2 {
			return
		}
		pc, err := col.RequestStatusChange(parts[1], model.Status(parts[0]))
		if err != nil {
			b.reportError(ctx, v, "change the status", err)
			return
		}
		b.replyWithKeyboard(v.chatID,
			fmt.Sprintf("%s booking %s? (%s → %s)", actionLabels[pc.To], pc.BookingRef, pc.From, pc.To),
			tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, "+strings.ToLower(actionLabels[pc.To]), "adm:confirm"),
				tgbotapi.NewInlineKeyboardButtonData("No", "adm:dismiss"),
			)))
	case data == "confirm":
		updated, err := col.Confirm(ctx, "")
		if err != nil {
			if errors.Is(err, reconcile.ErrNoPending) {
				b.reply(v.chatID, "Nothing to confirm.")
				return
			}
			if errors.Is(err, inflight.ErrBusy) {
				b.reply(v.chatID, "⏳ That booking is already being updated.")
				return
			}
			b.reportError(ctx, v, "change the status", err)
			return
		}
		b.reply(v.chatID, fmt.Sprintf("Booking %s is now %s.", updated.BookingRef, statusLabels[updated.Status]))
	case data == "dismiss":
		col.Dismiss()
		b.reply(v.chatID, "No changes made.")
	}
}

// handleExport sends the loaded admin collection as a spreadsheet.
func (b *Bot) handleExport(ctx context.Context, v *visitor) {
	if !b.requireAdmin(v) {
		return
	}
	if v.admin == nil {
		v.admin = reconcile.NewCollection(v.client, reconcile.ScopeAdmin, b.pageSize, b.logger)
		if err := v.admin.Fetch(ctx); err != nil {
			b.reportError(ctx, v, "load bookings", err)
			return
		}
	}

	var buf bytes.Buffer
	if err := export.Bookings(&buf, v.admin.Bookings()); err != nil {
		b.reportError(ctx, v, "build the export", err)
		return
	}
	p, _ := v.admin.Page()
	name := fmt.Sprintf("bookings-%s-p%d.xlsx", b.now().Format("20060102"), p+1)
	doc := tgbotapi.NewDocument(v.chatID, tgbotapi.FileBytes{Name: name, Bytes: buf.Bytes()})
	if _, err := b.tg.Send(doc); err != nil {
		b.reportError(ctx, v, "send the export", err)
	}
}
