package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tileworks/internal/api"
	"tileworks/internal/inflight"
	"tileworks/internal/metrics"
	"tileworks/internal/model"

	"github.com/rs/zerolog"
)

var (
	ErrIllegalMove      = errors.New("illegal wizard move")
	ErrSubmitRequired   = errors.New("contact step completes by submitting")
	ErrAlreadySubmitted = errors.New("booking already submitted")
	ErrMissingRef       = errors.New("booking response carried no booking reference")
)

// Submitter creates a booking in one multipart call.
type Submitter interface {
	CreateBooking(ctx context.Context, form api.BookingForm, files []api.Upload) (*model.Booking, error)
}

// FileSource yields the staged files to send with the booking.
type FileSource interface {
	Uploads() ([]api.Upload, error)
}

// Wizard is one booking-creation flow. Submitted is terminal for the lifetime of the value.
type Wizard struct {
	submitter Submitter
	files     FileSource
	validator *draftValidator
	guard     inflight.Guard
	logger    zerolog.Logger

	mu      sync.Mutex
	step    Step
	draft   Draft
	errs    ValidationErrors
	lastErr error
	result  *model.Booking
}

type Option func(*Wizard)

// WithClock overrides the clock used for the not-in-past date check.
func WithClock(now func() time.Time) Option {
	return func(w *Wizard) { w.validator = newDraftValidator(now) }
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(w *Wizard) { w.logger = logger.With().Str("component", "booking_wizard").Logger() }
}

// NewWizard starts a wizard at the service step. files may be nil when no files are staged.
func NewWizard(submitter Submitter, files FileSource, opts ...Option) *Wizard {
	w := &Wizard{
		submitter: submitter,
		files:     files,
		validator: newDraftValidator(time.Now),
		logger:    zerolog.Nop(),
		step:      StepService,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Draft returns a copy of the collected data.
func (w *Wizard) Draft() Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft
}

// Errors returns the field errors from the last rejected Next.
func (w *Wizard) Errors() ValidationErrors {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append(ValidationErrors(nil), w.errs...)
}

// LastError is the error of the last failed submission, shown inline on the contact step.
func (w *Wizard) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Result is the created booking once Submitted.
func (w *Wizard) Result() *model.Booking {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// Submitting reports whether a create call is outstanding.
func (w *Wizard) Submitting() bool {
	return w.guard.Busy("draft", "submit")
}

// Update edits the draft in place. Field values are trimmed.
func (w *Wizard) Update(fn func(d *Draft)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step == StepSubmitted {
		return ErrAlreadySubmitted
	}
	fn(&w.draft)
	w.draft.normalize()
	return nil
}

// Next validates the current step and advances. It never contacts the network.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.step {
	case StepContact:
		return ErrSubmitRequired
	case StepSubmitted:
		return ErrAlreadySubmitted
	}
	to, ok := next(w.step, ActionNext)
	if !ok {
		return fmt.Errorf("%w: next from %s", ErrIllegalMove, w.step)
	}
	if err := w.validator.step(&w.draft, w.step); err != nil {
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			w.errs = verrs
		}
		return err
	}
	w.errs = nil
	w.step = to
	return nil
}

// Back returns to the preceding step.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.Submitting() {
		return inflight.ErrBusy
	}
	if w.step == StepSubmitted {
		return ErrAlreadySubmitted
	}
	to, ok := next(w.step, ActionBack)
	if !ok {
		return fmt.Errorf("%w: back from %s", ErrIllegalMove, w.step)
	}
	w.errs = nil
	w.step = to
	return nil
}

// Submit sends the draft and staged files in one call. On failure the wizard stays at
// the contact step and the error is kept for display; nothing is retried.
func (w *Wizard) Submit(ctx context.Context) (*model.Booking, error) {
	w.mu.Lock()
	if w.step == StepSubmitted {
		w.mu.Unlock()
		return nil, ErrAlreadySubmitted
	}
	if w.step != StepContact {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: submit from %s", ErrIllegalMove, w.step)
	}
	// Acquired under mu so Back cannot leave the contact step once a submit has started.
	release, err := w.guard.Acquire("draft", "submit")
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	defer release()
	if err := w.validator.all(&w.draft); err != nil {
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			w.errs = verrs
		}
		w.mu.Unlock()
		return nil, err
	}
	w.errs = nil
	form := w.draft.form()
	w.mu.Unlock()

	var uploads []api.Upload
	if w.files != nil {
		if uploads, err = w.files.Uploads(); err != nil {
			return nil, w.fail(fmt.Errorf("read staged files: %w", err))
		}
	}

	b, err := w.submitter.CreateBooking(ctx, form, uploads)
	if err != nil {
		return nil, w.fail(err)
	}
	if b == nil || b.BookingRef == "" {
		return nil, w.fail(ErrMissingRef)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	to, ok := next(w.step, ActionSubmitted)
	if !ok {
		w.logger.Warn().Str("step", w.step.String()).Msg("booking created from unexpected step")
		to = StepSubmitted
	}
	w.step = to
	w.lastErr = nil
	w.result = b
	metrics.IncBookingSubmitted("ok")
	w.logger.Info().Str("booking_ref", b.BookingRef).Int("files", len(uploads)).Msg("booking submitted")
	return b, nil
}

func (w *Wizard) fail(err error) error {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
	metrics.IncBookingSubmitted("failed")
	w.logger.Warn().Err(err).Msg("booking submission failed")
	return err
}

func (d Draft) form() api.BookingForm {
	return api.BookingForm{
		ServiceID:     d.ServiceID,
		JobSize:       d.JobSize,
		Suburb:        d.Suburb,
		Postcode:      d.Postcode,
		Description:   d.Description,
		PreferredDate: d.PreferredDate,
		TimeSlot:      d.TimeSlot,
		CustomerName:  d.CustomerName,
		CustomerEmail: d.CustomerEmail,
		CustomerPhone: d.CustomerPhone,
	}
}
