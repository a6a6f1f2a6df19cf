package booking

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"tileworks/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
)

var postcodeRegex = regexp.MustCompile(`^\d{4}$`)

// phoneRegion is the default region for numbers entered without a country code.
const phoneRegion = "AU"

// Draft is the data collected by the wizard.
type Draft struct {
	ServiceID     string         `form:"serviceId" validate:"required,service"`
	JobSize       model.JobSize  `form:"jobSize" validate:"omitempty,oneof=small medium large"`
	Suburb        string         `form:"suburb" validate:"required"`
	Postcode      string         `form:"postcode" validate:"required,postcode"`
	Description   string         `form:"description" validate:"max=2000"`
	PreferredDate string         `form:"preferredDate" validate:"required,notpast"`
	TimeSlot      model.TimeSlot `form:"timeSlot" validate:"required,oneof=morning afternoon flexible"`
	CustomerName  string         `form:"customerName" validate:"required"`
	CustomerEmail string         `form:"customerEmail" validate:"required,email"`
	CustomerPhone string         `form:"customerPhone" validate:"required,auphone"`
}

func (d *Draft) normalize() {
	d.ServiceID = strings.TrimSpace(d.ServiceID)
	d.Suburb = strings.TrimSpace(d.Suburb)
	d.Postcode = strings.TrimSpace(d.Postcode)
	d.Description = strings.TrimSpace(d.Description)
	d.PreferredDate = strings.TrimSpace(d.PreferredDate)
	d.CustomerName = strings.TrimSpace(d.CustomerName)
	d.CustomerEmail = strings.TrimSpace(d.CustomerEmail)
	d.CustomerPhone = strings.TrimSpace(d.CustomerPhone)
}

// FieldError is a validation failure for one form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors blocks a step from advancing. It never involves the network.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// Field returns the message for one field, or "".
func (v ValidationErrors) Field(name string) string {
	for _, e := range v {
		if e.Field == name {
			return e.Message
		}
	}
	return ""
}

type draftValidator struct {
	validate *validator.Validate
}

func newDraftValidator(now func() time.Time) *draftValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("form"); name != "" {
			return name
		}
		return f.Name
	})

	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("service", func(fl validator.FieldLevel) bool {
		_, ok := model.ServiceByID(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("postcode", func(fl validator.FieldLevel) bool {
		return postcodeRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("auphone", func(fl validator.FieldLevel) bool {
		num, err := phonenumbers.Parse(fl.Field().String(), phoneRegion)
		if err != nil {
			return false
		}
		return phonenumbers.IsValidNumber(num)
	})
	_ = v.RegisterValidation("notpast", func(fl validator.FieldLevel) bool {
		current := now()
		day, err := time.ParseInLocation(model.DateLayout, fl.Field().String(), current.Location())
		if err != nil {
			return false
		}
		today := time.Date(current.Year(), current.Month(), current.Day(), 0, 0, 0, 0, current.Location())
		return !day.Before(today)
	})

	return &draftValidator{validate: v}
}

// step validates only the fields owned by s.
func (dv *draftValidator) step(d *Draft, s Step) error {
	fields, ok := stepFields[s]
	if !ok {
		return nil
	}
	return translate(dv.validate.StructPartial(d, fields...))
}

// all validates every field of the draft.
func (dv *draftValidator) all(d *Draft) error {
	return translate(dv.validate.Struct(d))
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fieldLabel(fe.Field()) + " is required"
	case "service":
		return "Please choose a service"
	case "postcode":
		return "Postcode must be exactly 4 digits"
	case "notpast":
		return "Date must be today or later (YYYY-MM-DD)"
	case "email":
		return "Please enter a valid email address"
	case "auphone":
		return "Please enter a valid Australian phone number"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fieldLabel(fe.Field()), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fieldLabel(fe.Field()), fe.Param())
	}
	return fe.Error()
}

var labels = map[string]string{
	"serviceId":     "Service",
	"jobSize":       "Job size",
	"suburb":        "Suburb",
	"postcode":      "Postcode",
	"description":   "Description",
	"preferredDate": "Preferred date",
	"timeSlot":      "Time slot",
	"customerName":  "Name",
	"customerEmail": "Email",
	"customerPhone": "Phone",
}

func fieldLabel(field string) string {
	if l, ok := labels[field]; ok {
		return l
	}
	return field
}
