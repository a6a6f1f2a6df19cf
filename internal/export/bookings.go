package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"tileworks/internal/model"
)

var bookingColumns = []string{
	"Reference", "Status", "Service", "Job size", "Suburb", "Postcode", "Preferred date",
	"Time slot", "Customer", "Email", "Phone", "Files", "Notes", "Created",
}

// Bookings writes bookings to out as an XLSX workbook with a Bookings sheet and a
// per-status Summary sheet.
func Bookings(out io.Writer, bookings []model.Booking) error {
	w := newSheetWriter()
	defer w.close()

	if err := w.addSheet("Bookings"); err != nil {
		return err
	}
	if err := w.header(bookingColumns); err != nil {
		return err
	}
	for i := range bookings {
		if err := w.write(bookingRow(&bookings[i])); err != nil {
			return fmt.Errorf("write booking %s: %w", bookings[i].BookingRef, err)
		}
	}
	w.widths(map[string]float64{"A": 14, "C": 22, "G": 14, "I": 20, "J": 26, "M": 30, "N": 18})

	if err := w.addSheet("Summary"); err != nil {
		return err
	}
	if err := w.header([]string{"Status", "Bookings"}); err != nil {
		return err
	}
	counts := make(map[model.Status]int)
	for i := range bookings {
		counts[bookings[i].Status]++
	}
	for _, s := range []model.Status{model.StatusPending, model.StatusConfirmed, model.StatusCompleted, model.StatusCancelled} {
		if err := w.write([]any{string(s), counts[s]}); err != nil {
			return err
		}
	}
	if err := w.write([]any{"total", len(bookings)}); err != nil {
		return err
	}

	return w.save(out)
}

func bookingRow(b *model.Booking) []any {
	service := b.ServiceID
	if s, ok := model.ServiceByID(b.ServiceID); ok {
		service = s.Name
	}
	name, email := b.CustomerName, b.CustomerEmail
	if b.User != nil {
		if name == "" {
			name = b.User.Name
		}
		if email == "" {
			email = b.User.Email
		}
	}
	files := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		files = append(files, f.OriginalFilename)
	}
	created := ""
	if !b.CreatedAt.IsZero() {
		created = b.CreatedAt.Format(time.DateTime)
	}
	return []any{
		b.BookingRef, string(b.Status), service, string(b.JobSize), b.Suburb, b.Postcode,
		b.PreferredDate, string(b.TimeSlot), name, email, b.CustomerPhone,
		strings.Join(files, ", "), b.Notes, created,
	}
}
