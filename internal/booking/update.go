package booking

import (
	"strings"
	"time"

	"tileworks/internal/api"
)

// UpdateValidator checks owner edits against the same rules as the booking wizard.
type UpdateValidator struct {
	dv *draftValidator
}

func NewUpdateValidator(now func() time.Time) *UpdateValidator {
	if now == nil {
		now = time.Now
	}
	return &UpdateValidator{dv: newDraftValidator(now)}
}

// Validate replaces the set string fields of upd with trimmed copies, then checks only
// the fields that are set. A rejected field yields ValidationErrors.
func (uv *UpdateValidator) Validate(upd *api.BookingUpdate) error {
	var (
		d      Draft
		fields []string
	)
	str := func(v **string, dst *string, name string) {
		if *v == nil {
			return
		}
		trimmed := strings.TrimSpace(**v)
		*v = &trimmed
		*dst = trimmed
		fields = append(fields, name)
	}
	str(&upd.PreferredDate, &d.PreferredDate, "PreferredDate")
	str(&upd.Description, &d.Description, "Description")
	str(&upd.Suburb, &d.Suburb, "Suburb")
	str(&upd.Postcode, &d.Postcode, "Postcode")
	str(&upd.CustomerPhone, &d.CustomerPhone, "CustomerPhone")
	if upd.TimeSlot != nil {
		d.TimeSlot = *upd.TimeSlot
		fields = append(fields, "TimeSlot")
	}
	if upd.JobSize != nil {
		d.JobSize = *upd.JobSize
		fields = append(fields, "JobSize")
	}
	if len(fields) == 0 {
		return nil
	}
	return translate(uv.dv.validate.StructPartial(&d, fields...))
}
