// Package notifications holds the admin notification feed.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tileworks/internal/inflight"
	"tileworks/internal/model"

	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("notification not in feed")

// Source is the subset of the gateway the feed needs.
type Source interface {
	Notifications(ctx context.Context, page, size int) (*model.Page[model.Notification], error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// Feed is one page of notifications. Read-state changes are applied locally first
// and rolled back if the backend rejects them.
type Feed struct {
	src      Source
	pageSize int
	guard    inflight.Guard
	logger   zerolog.Logger

	mu         sync.Mutex
	items      []model.Notification
	page       int
	totalPages int
	closed     bool
}

func NewFeed(src Source, pageSize int, logger *zerolog.Logger) *Feed {
	if pageSize <= 0 {
		pageSize = 10
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "notifications").Logger()
	}
	return &Feed{src: src, pageSize: pageSize, logger: l}
}

func (f *Feed) Fetch(ctx context.Context) error {
	f.mu.Lock()
	page := f.page
	f.mu.Unlock()
	return f.FetchPage(ctx, page)
}

func (f *Feed) FetchPage(ctx context.Context, page int) error {
	if page < 0 {
		page = 0
	}
	release, err := f.guard.Acquire("feed", "fetch")
	if err != nil {
		return err
	}
	defer release()

	p, err := f.src.Notifications(ctx, page, f.pageSize)
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.items = append([]model.Notification(nil), p.Content...)
	f.page = page
	f.totalPages = p.TotalPages
	return nil
}

func (f *Feed) Items() []model.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Notification(nil), f.items...)
}

func (f *Feed) Page() (page, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page, f.totalPages
}

func (f *Feed) Unread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range f.items {
		if !it.IsRead {
			n++
		}
	}
	return n
}

// MarkRead flags id as read immediately and restores it when the call fails.
// Already-read items are left alone.
func (f *Feed) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	i := f.index(id)
	if i < 0 {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if f.items[i].IsRead {
		f.mu.Unlock()
		return nil
	}
	release, err := f.guard.Acquire(id, "read")
	if err != nil {
		f.mu.Unlock()
		return err
	}
	defer release()
	f.items[i].IsRead = true
	f.mu.Unlock()

	if err := f.src.MarkNotificationRead(ctx, id); err != nil {
		f.mu.Lock()
		if !f.closed {
			if i := f.index(id); i >= 0 {
				f.items[i].IsRead = false
			}
		}
		f.mu.Unlock()
		f.logger.Warn().Err(err).Str("notification_id", id).Msg("mark read failed, rolled back")
		return err
	}
	return nil
}

func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *Feed) index(id string) int {
	for i := range f.items {
		if f.items[i].ID == id {
			return i
		}
	}
	return -1
}
