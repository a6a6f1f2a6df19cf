package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tileworks/internal/api"
	"tileworks/internal/booking"
	"tileworks/internal/inflight"
	"tileworks/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) MyBookings(ctx context.Context, page, size int) (*model.Page[model.Booking], error) {
	args := m.Called(ctx, page, size)
	p, _ := args.Get(0).(*model.Page[model.Booking])
	return p, args.Error(1)
}

func (m *mockSource) ListBookings(ctx context.Context, page, size int) (*model.Page[model.Booking], error) {
	args := m.Called(ctx, page, size)
	p, _ := args.Get(0).(*model.Page[model.Booking])
	return p, args.Error(1)
}

func (m *mockSource) UpdateStatus(ctx context.Context, id string, status model.Status, notes string) (*model.Booking, error) {
	args := m.Called(ctx, id, status, notes)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *mockSource) UpdateBooking(ctx context.Context, id string, upd api.BookingUpdate, files []api.Upload) (*model.Booking, error) {
	args := m.Called(ctx, id, upd, files)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func page(bookings ...model.Booking) *model.Page[model.Booking] {
	return &model.Page[model.Booking]{Content: bookings, TotalPages: 1}
}

func adminCollection(t *testing.T, src *mockSource, bookings ...model.Booking) *Collection {
	t.Helper()
	src.On("ListBookings", mock.Anything, 0, 10).Return(page(bookings...), nil).Once()
	c := NewCollection(src, ScopeAdmin, 10, nil)
	require.NoError(t, c.Fetch(context.Background()))
	return c
}

func TestFetchUsesScopeEndpoint(t *testing.T) {
	src := &mockSource{}
	src.On("MyBookings", mock.Anything, 0, 5).Return(page(model.Booking{ID: "b1"}), nil)
	c := NewCollection(src, ScopeCustomer, 5, nil)

	require.NoError(t, c.Fetch(context.Background()))
	assert.Len(t, c.Bookings(), 1)
	src.AssertNotCalled(t, "ListBookings", mock.Anything, mock.Anything, mock.Anything)

	_, err := c.RequestStatusChange("b1", model.StatusConfirmed)
	assert.ErrorIs(t, err, ErrAdminOnly)
}

func TestConfirmReplacesOnlyOnSuccess(t *testing.T) {
	src := &mockSource{}
	c := adminCollection(t, src,
		model.Booking{ID: "B1", BookingRef: "TW-1", Status: model.StatusPending},
		model.Booking{ID: "B2", BookingRef: "TW-2", Status: model.StatusPending},
	)

	pc, err := c.RequestStatusChange("B1", model.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, PendingChange{BookingID: "B1", BookingRef: "TW-1", From: model.StatusPending, To: model.StatusConfirmed}, pc)
	got, _ := c.Get("B1")
	assert.Equal(t, model.StatusPending, got.Status)

	src.On("UpdateStatus", mock.Anything, "B1", model.StatusConfirmed, "").
		Return(nil, &api.APIError{Status: 409, Message: "Date is blocked"}).Once()
	_, err = c.Confirm(context.Background(), "")
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	got, _ = c.Get("B1")
	assert.Equal(t, model.StatusPending, got.Status)
	_, ok := c.Pending()
	assert.False(t, ok)

	_, err = c.RequestStatusChange("B1", model.StatusConfirmed)
	require.NoError(t, err)
	src.On("UpdateStatus", mock.Anything, "B1", model.StatusConfirmed, "see you then").
		Return(&model.Booking{ID: "B1", BookingRef: "TW-1", Status: model.StatusConfirmed, Notes: "see you then"}, nil).Once()
	b, err := c.Confirm(context.Background(), "see you then")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, b.Status)

	all := c.Bookings()
	assert.Equal(t, model.StatusConfirmed, all[0].Status)
	assert.Equal(t, "see you then", all[0].Notes)
	assert.Equal(t, model.StatusPending, all[1].Status)
	src.AssertExpectations(t)
}

func TestIllegalTransitions(t *testing.T) {
	src := &mockSource{}
	c := adminCollection(t, src,
		model.Booking{ID: "B1", Status: model.StatusCancelled},
		model.Booking{ID: "B2", Status: model.StatusConfirmed},
	)

	_, err := c.RequestStatusChange("B1", model.StatusPending)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	_, err = c.RequestStatusChange("B2", model.StatusPending)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	_, err = c.RequestStatusChange("B2", model.StatusCompleted)
	assert.NoError(t, err)
	_, err = c.RequestStatusChange("missing", model.StatusCompleted)
	assert.ErrorIs(t, err, ErrNotFound)

	pc, ok := c.Pending()
	require.True(t, ok)
	assert.Equal(t, "B2", pc.BookingID)
	c.Dismiss()
	_, err = c.Confirm(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoPending)
}

func TestDuplicateConfirmIsRejectedWhileInFlight(t *testing.T) {
	src := &mockSource{}
	c := adminCollection(t, src,
		model.Booking{ID: "B1", Status: model.StatusPending},
		model.Booking{ID: "B2", Status: model.StatusPending},
	)

	started := make(chan struct{})
	finish := make(chan struct{})
	src.On("UpdateStatus", mock.Anything, "B1", model.StatusConfirmed, "").
		Run(func(mock.Arguments) {
			close(started)
			<-finish
		}).
		Return(&model.Booking{ID: "B1", Status: model.StatusConfirmed}, nil).Once()
	src.On("UpdateStatus", mock.Anything, "B2", model.StatusCancelled, "").
		Return(&model.Booking{ID: "B2", Status: model.StatusCancelled}, nil).Once()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.ApplyStatusChange(context.Background(), "B1", model.StatusConfirmed, "")
		assert.NoError(t, err)
	}()
	<-started

	assert.True(t, c.Busy("B1"))
	_, err := c.ApplyStatusChange(context.Background(), "B1", model.StatusConfirmed, "")
	assert.ErrorIs(t, err, inflight.ErrBusy)
	_, err = c.RequestStatusChange("B1", model.StatusConfirmed)
	assert.ErrorIs(t, err, inflight.ErrBusy)

	// Other bookings are not blocked.
	_, err = c.ApplyStatusChange(context.Background(), "B2", model.StatusCancelled, "")
	assert.NoError(t, err)

	close(finish)
	wg.Wait()
	assert.False(t, c.Busy("B1"))
	src.AssertNumberOfCalls(t, "UpdateStatus", 2)
}

type fakeSet struct {
	uploads   []api.Upload
	cleared   bool
	refreshed []model.File
}

func (f *fakeSet) Uploads() ([]api.Upload, error) { return f.uploads, nil }
func (f *fakeSet) ClearStaged()                   { f.cleared = true }
func (f *fakeSet) Refresh(files []model.File)     { f.refreshed = files }

func TestUpdateRefetchesAndRefreshesAttachments(t *testing.T) {
	src := &mockSource{}
	src.On("MyBookings", mock.Anything, 0, 10).
		Return(page(model.Booking{ID: "B1", Status: model.StatusPending, Suburb: "Perth"}), nil).Once()
	c := NewCollection(src, ScopeCustomer, 10, nil)
	require.NoError(t, c.Fetch(context.Background()))

	suburb := "Cottesloe"
	upd := api.BookingUpdate{Suburb: &suburb}
	set := &fakeSet{uploads: []api.Upload{{Filename: "wall.jpg", ContentType: "image/jpeg"}}}
	files := []model.File{{ID: "f9", Filename: "f9.jpg"}}

	src.On("UpdateBooking", mock.Anything, "B1", upd, set.uploads).
		Return(&model.Booking{ID: "B1", Suburb: suburb}, nil).Once()
	src.On("MyBookings", mock.Anything, 0, 10).
		Return(page(model.Booking{ID: "B1", Status: model.StatusPending, Suburb: suburb, Files: files}), nil).Once()

	b, err := c.Update(context.Background(), "B1", upd, set)
	require.NoError(t, err)
	assert.Equal(t, suburb, b.Suburb)
	assert.True(t, set.cleared)
	assert.Equal(t, files, set.refreshed)
	src.AssertExpectations(t)
}

func TestUpdateKeepsResponseWhenRefetchFails(t *testing.T) {
	src := &mockSource{}
	src.On("MyBookings", mock.Anything, 0, 10).
		Return(page(model.Booking{ID: "B1", Status: model.StatusPending, Suburb: "Perth"}), nil).Once()
	c := NewCollection(src, ScopeCustomer, 10, nil)
	require.NoError(t, c.Fetch(context.Background()))

	suburb := "Cottesloe"
	upd := api.BookingUpdate{Suburb: &suburb}
	set := &fakeSet{uploads: []api.Upload{{Filename: "wall.jpg", ContentType: "image/jpeg"}}}
	files := []model.File{{ID: "f9", Filename: "f9.jpg"}}

	src.On("UpdateBooking", mock.Anything, "B1", upd, set.uploads).
		Return(&model.Booking{ID: "B1", Suburb: suburb, Files: files}, nil).Once()
	src.On("MyBookings", mock.Anything, 0, 10).Return(nil, errors.New("gateway timeout")).Once()

	b, err := c.Update(context.Background(), "B1", upd, set)
	require.NoError(t, err)
	assert.Equal(t, suburb, b.Suburb)
	assert.Equal(t, model.StatusPending, b.Status)
	assert.True(t, set.cleared)
	assert.Equal(t, files, set.refreshed)

	held, ok := c.Get("B1")
	require.True(t, ok)
	assert.Equal(t, suburb, held.Suburb)
	assert.Equal(t, files, held.Files)
	src.AssertExpectations(t)
}

func TestUpdateRejectsInvalidEdits(t *testing.T) {
	src := &mockSource{}
	src.On("MyBookings", mock.Anything, 0, 10).
		Return(page(model.Booking{ID: "B1", Status: model.StatusPending, Suburb: "Perth"}), nil).Once()
	c := NewCollection(src, ScopeCustomer, 10, nil)
	require.NoError(t, c.Fetch(context.Background()))

	blank := "  "
	_, err := c.Update(context.Background(), "B1", api.BookingUpdate{Suburb: &blank}, nil)
	var verrs booking.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.NotEmpty(t, verrs.Field("suburb"))
	src.AssertNotCalled(t, "UpdateBooking", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateRejectsLockedBookings(t *testing.T) {
	for _, status := range []model.Status{model.StatusConfirmed, model.StatusCancelled} {
		src := &mockSource{}
		src.On("MyBookings", mock.Anything, 0, 10).Return(page(model.Booking{ID: "B1", Status: status}), nil).Once()
		c := NewCollection(src, ScopeCustomer, 10, nil)
		require.NoError(t, c.Fetch(context.Background()))

		_, err := c.Update(context.Background(), "B1", api.BookingUpdate{}, nil)
		assert.ErrorIs(t, err, ErrNotEditable, string(status))
		src.AssertNotCalled(t, "UpdateBooking", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestClosedCollectionIgnoresLateResults(t *testing.T) {
	src := &mockSource{}
	c := adminCollection(t, src, model.Booking{ID: "B1", Status: model.StatusPending})

	started := make(chan struct{})
	finish := make(chan struct{})
	src.On("ListBookings", mock.Anything, 0, 10).
		Run(func(mock.Arguments) {
			close(started)
			<-finish
		}).
		Return(page(model.Booking{ID: "B9"}), nil).Once()

	done := make(chan error)
	go func() { done <- c.Fetch(context.Background()) }()
	<-started
	c.Close()
	close(finish)

	require.NoError(t, <-done)
	bookings := c.Bookings()
	require.Len(t, bookings, 1)
	assert.Equal(t, "B1", bookings[0].ID)
}

func TestFetchErrorKeepsCollection(t *testing.T) {
	src := &mockSource{}
	c := adminCollection(t, src, model.Booking{ID: "B1"})
	src.On("ListBookings", mock.Anything, 1, 10).Return(nil, errors.New("connection reset")).Once()

	require.Error(t, c.FetchPage(context.Background(), 1))
	assert.Len(t, c.Bookings(), 1)
	p, _ := c.Page()
	assert.Equal(t, 0, p)
}
