// Package reconcile keeps a local booking collection in step with the backend.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tileworks/internal/api"
	"tileworks/internal/booking"
	"tileworks/internal/inflight"
	"tileworks/internal/metrics"
	"tileworks/internal/model"

	"github.com/rs/zerolog"
)

var (
	ErrNotFound          = errors.New("booking not in collection")
	ErrIllegalTransition = errors.New("status change not allowed")
	ErrNoPending         = errors.New("no status change awaiting confirmation")
	ErrNotEditable       = errors.New("booking can no longer be edited")
	ErrAdminOnly         = errors.New("status changes require the admin collection")
)

const (
	actionFetch  = "fetch"
	actionStatus = "status"
	actionUpdate = "update"
)

// Scope selects which bookings a collection holds.
type Scope int

const (
	ScopeCustomer Scope = iota
	ScopeAdmin
)

func (s Scope) String() string {
	if s == ScopeAdmin {
		return "admin"
	}
	return "customer"
}

// Source is the subset of the gateway the collection needs.
type Source interface {
	MyBookings(ctx context.Context, page, size int) (*model.Page[model.Booking], error)
	ListBookings(ctx context.Context, page, size int) (*model.Page[model.Booking], error)
	UpdateStatus(ctx context.Context, id string, status model.Status, notes string) (*model.Booking, error)
	UpdateBooking(ctx context.Context, id string, upd api.BookingUpdate, files []api.Upload) (*model.Booking, error)
}

// AttachmentSet is the attachment state of the booking being edited.
type AttachmentSet interface {
	Uploads() ([]api.Upload, error)
	ClearStaged()
	Refresh(files []model.File)
}

// PendingChange is a status change waiting for explicit confirmation.
type PendingChange struct {
	BookingID  string
	BookingRef string
	From       model.Status
	To         model.Status
}

// Collection is the in-memory list owned by one view. Nothing else mutates it.
type Collection struct {
	src      Source
	scope    Scope
	pageSize int
	guard    inflight.Guard
	logger   zerolog.Logger
	edits    *booking.UpdateValidator

	mu         sync.Mutex
	bookings   []model.Booking
	page       int
	totalPages int
	pending    *PendingChange
	closed     bool
}

type Option func(*Collection)

// WithUpdateValidator sets the checks owner edits must pass before they are sent.
func WithUpdateValidator(uv *booking.UpdateValidator) Option {
	return func(c *Collection) { c.edits = uv }
}

func NewCollection(src Source, scope Scope, pageSize int, logger *zerolog.Logger, opts ...Option) *Collection {
	if pageSize <= 0 {
		pageSize = 10
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "reconcile").Str("scope", scope.String()).Logger()
	}
	c := &Collection{src: src, scope: scope, pageSize: pageSize, logger: l}
	for _, opt := range opts {
		opt(c)
	}
	if c.edits == nil {
		c.edits = booking.NewUpdateValidator(time.Now)
	}
	return c
}

// Fetch reloads the current page.
func (c *Collection) Fetch(ctx context.Context) error {
	c.mu.Lock()
	page := c.page
	c.mu.Unlock()
	return c.FetchPage(ctx, page)
}

// FetchPage loads one page and replaces the collection with it.
func (c *Collection) FetchPage(ctx context.Context, page int) error {
	if page < 0 {
		page = 0
	}
	release, err := c.guard.Acquire("collection", actionFetch)
	if err != nil {
		return err
	}
	defer release()

	var p *model.Page[model.Booking]
	if c.scope == ScopeAdmin {
		p, err = c.src.ListBookings(ctx, page, c.pageSize)
	} else {
		p, err = c.src.MyBookings(ctx, page, c.pageSize)
	}
	if err != nil {
		return fmt.Errorf("fetch %s bookings: %w", c.scope, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.bookings = append([]model.Booking(nil), p.Content...)
	c.page = page
	c.totalPages = p.TotalPages
	return nil
}

// Bookings returns a copy of the collection.
func (c *Collection) Bookings() []model.Booking {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Booking(nil), c.bookings...)
}

// Page returns the current page index and the total reported by the backend.
func (c *Collection) Page() (page, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page, c.totalPages
}

func (c *Collection) Get(id string) (model.Booking, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.index(id); i >= 0 {
		return c.bookings[i], true
	}
	return model.Booking{}, false
}

// Busy reports whether any call is outstanding for the booking; controls for it stay disabled.
func (c *Collection) Busy(id string) bool {
	return c.guard.BusyResource(id)
}

// RequestStatusChange opens a confirmation for moving id to status. Nothing is sent yet.
func (c *Collection) RequestStatusChange(id string, to model.Status) (PendingChange, error) {
	if c.scope != ScopeAdmin {
		return PendingChange{}, ErrAdminOnly
	}
	if c.guard.Busy(id, actionStatus) {
		return PendingChange{}, inflight.ErrBusy
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.index(id)
	if i < 0 {
		return PendingChange{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	b := c.bookings[i]
	if !model.CanTransition(b.Status, to) {
		return PendingChange{}, fmt.Errorf("%w: %s to %s", ErrIllegalTransition, b.Status, to)
	}
	pc := PendingChange{BookingID: id, BookingRef: b.BookingRef, From: b.Status, To: to}
	c.pending = &pc
	return pc, nil
}

// Pending returns the change awaiting confirmation, if any.
func (c *Collection) Pending() (PendingChange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return PendingChange{}, false
	}
	return *c.pending, true
}

// Dismiss drops the pending confirmation.
func (c *Collection) Dismiss() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

// Confirm sends the pending change. The local record changes only after the backend accepts it.
func (c *Collection) Confirm(ctx context.Context, notes string) (*model.Booking, error) {
	c.mu.Lock()
	pc := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pc == nil {
		return nil, ErrNoPending
	}
	return c.ApplyStatusChange(ctx, pc.BookingID, pc.To, notes)
}

// ApplyStatusChange performs a confirmed status change. Only one may be outstanding per booking.
func (c *Collection) ApplyStatusChange(ctx context.Context, id string, to model.Status, notes string) (*model.Booking, error) {
	if c.scope != ScopeAdmin {
		return nil, ErrAdminOnly
	}
	release, err := c.guard.Acquire(id, actionStatus)
	if err != nil {
		return nil, err
	}
	defer release()

	c.mu.Lock()
	i := c.index(id)
	if i < 0 {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	from := c.bookings[i].Status
	c.mu.Unlock()
	if !model.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrIllegalTransition, from, to)
	}

	updated, err := c.src.UpdateStatus(ctx, id, to, notes)
	if err != nil {
		metrics.IncStatusChange(string(to), "failed")
		c.logger.Warn().Err(err).Str("booking_id", id).Str("status", string(to)).Msg("status change rejected")
		return nil, err
	}
	metrics.IncStatusChange(string(to), "ok")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return updated, nil
	}
	if i = c.index(id); i >= 0 {
		b := c.bookings[i]
		b.Status = to
		if updated != nil && updated.ID == id {
			b = *updated
			if b.Status == "" {
				b.Status = to
			}
		}
		c.bookings[i] = b
		c.logger.Info().Str("booking_id", id).Str("from", string(from)).Str("to", string(to)).Msg("booking status changed")
		return &b, nil
	}
	return updated, nil
}

// Update applies an owner edit, then refetches. Staged files in set travel in the same
// call as multipart; without any the body is JSON. set may be nil.
func (c *Collection) Update(ctx context.Context, id string, upd api.BookingUpdate, set AttachmentSet) (*model.Booking, error) {
	c.mu.Lock()
	i := c.index(id)
	if i < 0 {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	editable := c.bookings[i].Editable()
	c.mu.Unlock()
	if !editable {
		return nil, ErrNotEditable
	}
	if err := c.edits.Validate(&upd); err != nil {
		return nil, err
	}

	release, err := c.guard.Acquire(id, actionUpdate)
	if err != nil {
		return nil, err
	}
	defer release()

	var uploads []api.Upload
	if set != nil {
		if uploads, err = set.Uploads(); err != nil {
			return nil, err
		}
	}

	updated, err := c.src.UpdateBooking(ctx, id, upd, uploads)
	if err != nil {
		return nil, err
	}
	if set != nil && len(uploads) > 0 {
		set.ClearStaged()
	}

	if err := c.Fetch(ctx); err != nil {
		c.logger.Warn().Err(err).Str("booking_id", id).Msg("refetch after update failed")
		updated = c.patch(id, updated)
	} else if b, ok := c.Get(id); ok {
		updated = &b
	}
	if set != nil && updated != nil {
		set.Refresh(updated.Files)
	}
	return updated, nil
}

// patch stores the server's response to an edit in place of the local copy.
// It returns the booking as now held, or b when the collection no longer has it.
func (c *Collection) patch(id string, b *model.Booking) *model.Booking {
	if b == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.index(id)
	if c.closed || i < 0 {
		return b
	}
	next := *b
	if next.ID == "" {
		next.ID = id
	}
	if next.Status == "" {
		next.Status = c.bookings[i].Status
	}
	c.bookings[i] = next
	return &next
}

// Close detaches the collection from its view. Results arriving later are dropped.
func (c *Collection) Close() {
	c.mu.Lock()
	c.closed = true
	c.pending = nil
	c.mu.Unlock()
}

func (c *Collection) index(id string) int {
	for i := range c.bookings {
		if c.bookings[i].ID == id {
			return i
		}
	}
	return -1
}
