package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tileworks/internal/attachments"
	"tileworks/internal/booking"
	"tileworks/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type choice struct {
	label string
	value string
}

// prompt asks for one draft field. Fields with choices are answered by buttons.
type prompt struct {
	field    string
	text     string
	optional bool
	choices  []choice
}

var stepPrompts = map[booking.Step][]prompt{
	booking.StepService: {
		{field: "serviceId", text: "Which service do you need?", choices: serviceChoices()},
	},
	booking.StepDetails: {
		{field: "jobSize", text: "How big is the job?", optional: true, choices: []choice{
			{"Small", string(model.JobSmall)}, {"Medium", string(model.JobMedium)}, {"Large", string(model.JobLarge)},
		}},
		{field: "suburb", text: "Which suburb is the job in?"},
		{field: "postcode", text: "Postcode (4 digits):"},
		{field: "description", text: "Describe the job (or press Skip):", optional: true},
	},
	booking.StepSchedule: {
		{field: "preferredDate", text: "Preferred date (YYYY-MM-DD):"},
		{field: "timeSlot", text: "Preferred time:", choices: []choice{
			{"Morning", string(model.SlotMorning)}, {"Afternoon", string(model.SlotAfternoon)}, {"Flexible", string(model.SlotFlexible)},
		}},
	},
	booking.StepContact: {
		{field: "customerName", text: "Your name:"},
		{field: "customerEmail", text: "Your email:"},
		{field: "customerPhone", text: "Your phone number:"},
	},
}

func serviceChoices() []choice {
	out := make([]choice, 0, len(model.Services))
	for _, s := range model.Services {
		out = append(out, choice{s.Name, s.ID})
	}
	return out
}

func setField(d *booking.Draft, field, value string) {
	switch field {
	case "serviceId":
		d.ServiceID = value
	case "jobSize":
		d.JobSize = model.JobSize(value)
	case "suburb":
		d.Suburb = value
	case "postcode":
		d.Postcode = value
	case "description":
		d.Description = value
	case "preferredDate":
		d.PreferredDate = value
	case "timeSlot":
		d.TimeSlot = model.TimeSlot(value)
	case "customerName":
		d.CustomerName = value
	case "customerEmail":
		d.CustomerEmail = value
	case "customerPhone":
		d.CustomerPhone = value
	}
}

func (b *Bot) startWizard(ctx context.Context, v *visitor) {
	if !b.requireAuth(v) {
		return
	}
	v.resetWizard()
	v.closeEdit()
	v.staged = attachments.NewManager(nil,
		attachments.WithLimits(b.limits),
		attachments.WithPreviewDir(b.previewDir),
		attachments.WithLogger(b.logger),
	)
	v.wizard = booking.NewWizard(v.client, v.staged, booking.WithClock(b.now), booking.WithLogger(b.logger))

	if u, ok := v.store.User(); ok {
		_ = v.wizard.Update(func(d *booking.Draft) {
			d.CustomerName = u.Name
			d.CustomerEmail = u.Email
		})
	}
	b.askStep(v, 0)
}

// askStep asks the prompt at index i of the current step, or moves on when the step is done.
func (b *Bot) askStep(v *visitor, i int) {
	w := v.wizard
	step := w.Step()
	prompts := stepPrompts[step]
	if i >= len(prompts) {
		if step == booking.StepContact {
			b.sendReview(v)
			return
		}
		b.advance(v)
		return
	}

	v.prompt = i
	p := prompts[i]
	v.awaiting = p.field

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, c := range p.choices {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(c.label, "wiz:set:"+p.field+":"+c.value),
		))
	}
	var nav []tgbotapi.InlineKeyboardButton
	if step != booking.StepService || i > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "wiz:back"))
	}
	if p.optional {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("Skip", "wiz:set:"+p.field+":"))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}

	text := fmt.Sprintf("Step %d of 4. %s", int(step)+1, p.text)
	if len(rows) == 0 {
		b.reply(v.chatID, text)
		return
	}
	b.replyWithKeyboard(v.chatID, text, tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) advance(v *visitor) {
	w := v.wizard
	if err := w.Next(); err != nil {
		var verrs booking.ValidationErrors
		if !errors.As(err, &verrs) {
			b.reply(v.chatID, "⚠️ "+err.Error())
			return
		}
		b.reply(v.chatID, formatValidation(verrs))
		b.askStep(v, firstInvalid(w.Step(), verrs))
		return
	}
	b.askStep(v, 0)
}

func firstInvalid(step booking.Step, verrs booking.ValidationErrors) int {
	for i, p := range stepPrompts[step] {
		if verrs.Field(p.field) != "" {
			return i
		}
	}
	return 0
}

func formatValidation(verrs booking.ValidationErrors) string {
	lines := make([]string, 0, len(verrs))
	for _, e := range verrs {
		lines = append(lines, "• "+e.Message)
	}
	return "Please fix:\n" + strings.Join(lines, "\n")
}

func (b *Bot) handleWizardInput(_ context.Context, v *visitor, field, text string) {
	b.setAndContinue(v, field, text)
}

func (b *Bot) setAndContinue(v *visitor, field, value string) {
	w := v.wizard
	if err := w.Update(func(d *booking.Draft) { setField(d, field, value) }); err != nil {
		b.reply(v.chatID, "This booking was already submitted. Start a new one with /book.")
		return
	}
	b.askStep(v, v.prompt+1)
}

func (b *Bot) handleWizardCallback(ctx context.Context, v *visitor, data string) {
	if data == "start" {
		b.startWizard(ctx, v)
		return
	}
	if v.wizard == nil {
		b.reply(v.chatID, "This booking form has expired. Start again with /book.")
		return
	}

	switch {
	case strings.HasPrefix(data, "set:"):
		parts := strings.SplitN(strings.TrimPrefix(data, "set:"), ":", 2)
		if len(parts) != 2 || parts[0] != v.awaiting {
			return
		}
		b.setAndContinue(v, parts[0], parts[1])
	case data == "back":
		b.wizardBack(v)
	case data == "submit":
		b.submitWizard(ctx, v)
	case strings.HasPrefix(data, "unstage:"):
		var idx int
		if _, err := fmt.Sscanf(strings.TrimPrefix(data, "unstage:"), "%d", &idx); err != nil {
			return
		}
		if err := v.staged.Unstage(idx); err != nil {
			b.reply(v.chatID, "That file is no longer attached.")
		}
		b.sendReview(v)
	}
}

// wizardBack steps to the previous prompt, crossing into the previous step when needed.
func (b *Bot) wizardBack(v *visitor) {
	w := v.wizard
	if v.prompt > 0 && v.awaiting != "" {
		b.askStep(v, v.prompt-1)
		return
	}
	if err := w.Back(); err != nil {
		b.reply(v.chatID, "⚠️ "+err.Error())
		return
	}
	b.askStep(v, len(stepPrompts[w.Step()])-1)
}

// sendReview shows the draft and staged files with the submit control.
func (b *Bot) sendReview(v *visitor) {
	v.awaiting = ""
	v.prompt = len(stepPrompts[booking.StepContact])
	d := v.wizard.Draft()

	var sb strings.Builder
	sb.WriteString("Please review your booking:\n\n")
	svc := d.ServiceID
	if s, ok := model.ServiceByID(d.ServiceID); ok {
		svc = s.Name
	}
	fmt.Fprintf(&sb, "Service: %s\n", svc)
	if d.JobSize != "" {
		fmt.Fprintf(&sb, "Job size: %s\n", d.JobSize)
	}
	fmt.Fprintf(&sb, "Location: %s %s\n", d.Suburb, d.Postcode)
	if d.Description != "" {
		fmt.Fprintf(&sb, "Details: %s\n", d.Description)
	}
	fmt.Fprintf(&sb, "When: %s (%s)\n", d.PreferredDate, d.TimeSlot)
	fmt.Fprintf(&sb, "Contact: %s, %s, %s\n", d.CustomerName, d.CustomerEmail, d.CustomerPhone)

	rows := [][]tgbotapi.InlineKeyboardButton{}
	for i, a := range v.staged.List() {
		fmt.Fprintf(&sb, "📎 %s (%s)\n", a.Name(), humanBytes(a.Size()))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✖️ Remove "+a.Name(), fmt.Sprintf("wiz:unstage:%d", i)),
		))
	}
	sb.WriteString("\nSend photos or PDF files to attach them (optional).")
	if err := v.wizard.LastError(); err != nil {
		sb.WriteString("\n\n⚠️ Last attempt failed: " + userMessage(err))
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "wiz:back"),
		tgbotapi.NewInlineKeyboardButtonData("✅ Submit", "wiz:submit"),
	))
	b.replyWithKeyboard(v.chatID, sb.String(), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) submitWizard(ctx context.Context, v *visitor) {
	w, staged := v.wizard, v.staged
	_, err := w.Submit(ctx)
	if err != nil {
		var verrs booking.ValidationErrors
		if errors.As(err, &verrs) {
			b.reply(v.chatID, formatValidation(verrs))
			return
		}
		b.reportError(ctx, v, "submit your booking", err)
		if v.wizard == w {
			b.sendReview(v)
		}
		return
	}
	staged.Close()
	v.wizard, v.staged, v.awaiting = nil, nil, ""
	if v.mine != nil {
		_ = v.mine.Fetch(ctx)
	}
	b.sendMainMenu(v, fmt.Sprintf("✅ Booking received. Your reference is %s. We'll be in touch to confirm.", w.Result().BookingRef))
}
