package booking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"tileworks/internal/api"
	"tileworks/internal/inflight"
	"tileworks/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type stubSubmitter struct {
	booking *model.Booking
	err     error
	calls   int
	form    api.BookingForm
	files   []api.Upload
}

func (s *stubSubmitter) CreateBooking(_ context.Context, form api.BookingForm, files []api.Upload) (*model.Booking, error) {
	s.calls++
	s.form = form
	s.files = files
	return s.booking, s.err
}

func fillToContact(t *testing.T, w *Wizard) {
	t.Helper()
	require.NoError(t, w.Update(func(d *Draft) { d.ServiceID = "waterproofing" }))
	require.NoError(t, w.Next())
	require.NoError(t, w.Update(func(d *Draft) {
		d.Suburb = "Fremantle"
		d.Postcode = "6160"
	}))
	require.NoError(t, w.Next())
	require.NoError(t, w.Update(func(d *Draft) {
		d.PreferredDate = fixedNow.AddDate(0, 0, 1).Format(model.DateLayout)
		d.TimeSlot = model.SlotMorning
	}))
	require.NoError(t, w.Next())
	require.NoError(t, w.Update(func(d *Draft) {
		d.CustomerName = "Jane Doe"
		d.CustomerEmail = "jane@example.com"
		d.CustomerPhone = "0412345678"
	}))
	require.Equal(t, StepContact, w.Step())
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from   Step
		action Action
		want   Step
		ok     bool
	}{
		{StepService, ActionNext, StepDetails, true},
		{StepDetails, ActionNext, StepSchedule, true},
		{StepSchedule, ActionNext, StepContact, true},
		{StepContact, ActionNext, 0, false},
		{StepContact, ActionSubmitted, StepSubmitted, true},
		{StepService, ActionBack, 0, false},
		{StepContact, ActionBack, StepSchedule, true},
		{StepSubmitted, ActionBack, 0, false},
		{StepSubmitted, ActionNext, 0, false},
		{StepSchedule, ActionSubmitted, 0, false},
	}
	for _, tt := range tests {
		got, ok := next(tt.from, tt.action)
		assert.Equal(t, tt.ok, ok, "%s/%d", tt.from, tt.action)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestPostcodeGatesDetails(t *testing.T) {
	tests := []struct {
		postcode string
		wantOK   bool
	}{
		{"12a4", false},
		{"6000", true},
		{"600", false},
		{"60000", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.postcode, func(t *testing.T) {
			w := NewWizard(&stubSubmitter{}, nil, WithClock(clock))
			require.NoError(t, w.Update(func(d *Draft) { d.ServiceID = "floor-tiling" }))
			require.NoError(t, w.Next())
			require.NoError(t, w.Update(func(d *Draft) {
				d.Suburb = "Perth"
				d.Postcode = tt.postcode
			}))

			err := w.Next()
			if tt.wantOK {
				require.NoError(t, err)
				assert.Equal(t, StepSchedule, w.Step())
				return
			}
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.NotEmpty(t, verrs.Field("postcode"))
			assert.Equal(t, StepDetails, w.Step())
		})
	}
}

func TestStepValidators(t *testing.T) {
	w := NewWizard(&stubSubmitter{}, nil, WithClock(clock))

	err := w.Next()
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "Service is required", verrs.Field("serviceId"))

	require.NoError(t, w.Update(func(d *Draft) { d.ServiceID = "roofing" }))
	require.Error(t, w.Next())
	assert.Equal(t, "Please choose a service", w.Errors().Field("serviceId"))

	require.NoError(t, w.Update(func(d *Draft) { d.ServiceID = "regrouting" }))
	require.NoError(t, w.Next())
	assert.Empty(t, w.Errors())

	require.NoError(t, w.Update(func(d *Draft) {
		d.Suburb = "   "
		d.Postcode = "6000"
	}))
	require.Error(t, w.Next())
	assert.NotEmpty(t, w.Errors().Field("suburb"))

	require.NoError(t, w.Update(func(d *Draft) { d.Suburb = "Subiaco" }))
	require.NoError(t, w.Next())

	require.NoError(t, w.Update(func(d *Draft) {
		d.PreferredDate = "2024-03-13"
		d.TimeSlot = model.SlotFlexible
	}))
	require.Error(t, w.Next())
	assert.NotEmpty(t, w.Errors().Field("preferredDate"))

	require.NoError(t, w.Update(func(d *Draft) {
		d.PreferredDate = "2024-03-14"
		d.TimeSlot = ""
	}))
	require.Error(t, w.Next())
	assert.NotEmpty(t, w.Errors().Field("timeSlot"))
	assert.Empty(t, w.Errors().Field("preferredDate"))

	require.NoError(t, w.Update(func(d *Draft) { d.TimeSlot = model.SlotAfternoon }))
	require.NoError(t, w.Next())

	require.NoError(t, w.Update(func(d *Draft) {
		d.CustomerName = "Jane"
		d.CustomerEmail = "not-an-email"
		d.CustomerPhone = "12"
	}))
	_, err = w.Submit(context.Background())
	require.ErrorAs(t, err, &verrs)
	assert.NotEmpty(t, verrs.Field("customerEmail"))
	assert.NotEmpty(t, verrs.Field("customerPhone"))
	assert.Equal(t, StepContact, w.Step())
}

func TestBackAndNextAtContact(t *testing.T) {
	w := NewWizard(&stubSubmitter{}, nil, WithClock(clock))
	assert.ErrorIs(t, w.Back(), ErrIllegalMove)

	fillToContact(t, w)
	assert.ErrorIs(t, w.Next(), ErrSubmitRequired)

	require.NoError(t, w.Back())
	assert.Equal(t, StepSchedule, w.Step())
	assert.Equal(t, "Fremantle", w.Draft().Suburb)
}

func TestSubmitFailureStaysAtContact(t *testing.T) {
	sub := &stubSubmitter{err: &api.APIError{Status: 409, Message: "Date is blocked"}}
	w := NewWizard(sub, nil, WithClock(clock))
	fillToContact(t, w)

	_, err := w.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, StepContact, w.Step())
	assert.Equal(t, err, w.LastError())
	assert.Equal(t, 1, sub.calls)

	sub.err = nil
	sub.booking = &model.Booking{ID: "b1"}
	_, err = w.Submit(context.Background())
	assert.ErrorIs(t, err, ErrMissingRef)
	assert.Equal(t, StepContact, w.Step())

	sub.booking = &model.Booking{ID: "b1", BookingRef: "TW-1001"}
	b, err := w.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TW-1001", b.BookingRef)
	assert.Equal(t, StepSubmitted, w.Step())
	assert.Nil(t, w.LastError())

	assert.ErrorIs(t, w.Back(), ErrAlreadySubmitted)
	assert.ErrorIs(t, w.Next(), ErrAlreadySubmitted)
	assert.ErrorIs(t, w.Update(func(d *Draft) {}), ErrAlreadySubmitted)
	_, err = w.Submit(context.Background())
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Equal(t, 3, sub.calls)
}

type blockingSubmitter struct {
	started chan struct{}
	finish  chan *model.Booking
}

func (s *blockingSubmitter) CreateBooking(_ context.Context, _ api.BookingForm, _ []api.Upload) (*model.Booking, error) {
	close(s.started)
	return <-s.finish, nil
}

func TestBackBlockedWhileSubmitting(t *testing.T) {
	sub := &blockingSubmitter{started: make(chan struct{}), finish: make(chan *model.Booking)}
	w := NewWizard(sub, nil, WithClock(clock))
	fillToContact(t, w)

	done := make(chan error, 1)
	go func() {
		_, err := w.Submit(context.Background())
		done <- err
	}()
	<-sub.started

	assert.True(t, w.Submitting())
	assert.ErrorIs(t, w.Back(), inflight.ErrBusy)
	assert.Equal(t, StepContact, w.Step())
	_, err := w.Submit(context.Background())
	assert.ErrorIs(t, err, inflight.ErrBusy)

	sub.finish <- &model.Booking{ID: "b1", BookingRef: "TW-2002"}
	require.NoError(t, <-done)
	assert.Equal(t, StepSubmitted, w.Step())
	require.NotNil(t, w.Result())
	assert.Equal(t, "TW-2002", w.Result().BookingRef)
}

type stubFiles struct {
	uploads []api.Upload
	err     error
}

func (s stubFiles) Uploads() ([]api.Upload, error) { return s.uploads, s.err }

func TestSubmitSendsStagedFiles(t *testing.T) {
	sub := &stubSubmitter{booking: &model.Booking{BookingRef: "TW-1"}}
	files := stubFiles{uploads: []api.Upload{{Filename: "floor.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}}}}
	w := NewWizard(sub, files, WithClock(clock))
	fillToContact(t, w)

	_, err := w.Submit(context.Background())
	require.NoError(t, err)
	require.Len(t, sub.files, 1)
	assert.Equal(t, "floor.jpg", sub.files[0].Filename)

	w2 := NewWizard(sub, stubFiles{err: errors.New("gone")}, WithClock(clock))
	fillToContact(t, w2)
	_, err = w2.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, StepContact, w2.Step())
}

func TestFremantleScenario(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/bookings" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		posts.Add(1)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		keys := make([]string, 0, len(r.MultipartForm.Value))
		for k := range r.MultipartForm.Value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		assert.Equal(t, []string{
			"customerEmail", "customerName", "customerPhone", "postcode",
			"preferredDate", "serviceId", "suburb", "timeSlot",
		}, keys)
		assert.Equal(t, "waterproofing", r.FormValue("serviceId"))
		assert.Equal(t, "Fremantle", r.FormValue("suburb"))
		assert.Equal(t, "6160", r.FormValue("postcode"))
		assert.Equal(t, "2024-03-15", r.FormValue("preferredDate"))
		assert.Equal(t, "morning", r.FormValue("timeSlot"))
		assert.Equal(t, "Jane Doe", r.FormValue("customerName"))
		assert.Equal(t, "jane@example.com", r.FormValue("customerEmail"))
		assert.Equal(t, "0412345678", r.FormValue("customerPhone"))
		assert.Empty(t, r.MultipartForm.File)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"id": "b-77", "bookingRef": "TW-0077", "status": "pending"},
		})
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, nil)
	w := NewWizard(client, nil, WithClock(clock))
	fillToContact(t, w)

	b, err := w.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), posts.Load())
	assert.Equal(t, "TW-0077", b.BookingRef)
	assert.Equal(t, StepSubmitted, w.Step())
}
