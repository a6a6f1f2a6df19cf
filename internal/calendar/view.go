package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tileworks/internal/model"

	"github.com/rs/zerolog"
)

// Source loads blocked dates for an inclusive range.
type Source interface {
	BlockedDates(ctx context.Context, from, to time.Time) ([]model.BlockedDate, error)
}

// View is the admin calendar. Every month change is a fresh fetch; nothing is cached.
type View struct {
	src    Source
	logger zerolog.Logger

	mu     sync.Mutex
	grid   Grid
	index  Index
	seq    uint64
	closed bool
}

func NewView(src Source, logger *zerolog.Logger) *View {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "calendar").Logger()
	}
	return &View{src: src, logger: l, index: Index{}}
}

// Show switches to a month and loads its blocked dates.
func (v *View) Show(ctx context.Context, year int, month time.Month) error {
	return v.load(ctx, NewGrid(year, month))
}

func (v *View) Next(ctx context.Context) error {
	v.mu.Lock()
	g := v.grid
	v.mu.Unlock()
	if g.Weeks == nil {
		return fmt.Errorf("calendar: no month shown")
	}
	return v.load(ctx, g.Next())
}

func (v *View) Prev(ctx context.Context) error {
	v.mu.Lock()
	g := v.grid
	v.mu.Unlock()
	if g.Weeks == nil {
		return fmt.Errorf("calendar: no month shown")
	}
	return v.load(ctx, g.Prev())
}

// Refresh refetches the month on screen.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	g := v.grid
	v.mu.Unlock()
	if g.Weeks == nil {
		return fmt.Errorf("calendar: no month shown")
	}
	return v.load(ctx, g)
}

// load swaps in the new grid with an empty index, then fills it when the fetch
// returns. Only the latest load may install its result.
func (v *View) load(ctx context.Context, g Grid) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.seq++
	seq := v.seq
	v.grid = g
	v.index = Index{}
	v.mu.Unlock()

	records, err := v.src.BlockedDates(ctx, g.Start(), g.End())
	if err != nil {
		return fmt.Errorf("load blocked dates for %s %d: %w", g.Month, g.Year, err)
	}
	idx := NewIndex(records)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || seq != v.seq {
		return nil
	}
	v.index = idx
	v.logger.Debug().Str("month", g.Month.String()).Int("year", g.Year).Int("blocked", len(idx)).Msg("calendar loaded")
	return nil
}

// Grid returns the month on screen.
func (v *View) Grid() Grid {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.grid
}

// Blocked returns the record for day t, if any.
func (v *View) Blocked(t time.Time) (model.BlockedDate, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.index.For(t)
}

// BlockedCount is the number of blocked days indexed for the current grid.
func (v *View) BlockedCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.index)
}

func (v *View) Close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
}
