// Package calendar lays out month grids and indexes blocked dates for them.
package calendar

import (
	"time"

	"tileworks/internal/model"
)

// Day is one cell of the grid.
type Day struct {
	Date    time.Time
	InMonth bool
}

// Key is the ISO day used to look the cell up in an Index.
func (d Day) Key() string { return d.Date.Format(model.DateLayout) }

// Grid is a Monday-first month view padded with days of the adjacent months.
type Grid struct {
	Year  int
	Month time.Month
	Weeks [][7]Day
}

// NewGrid builds the grid for month of year.
func NewGrid(year int, month time.Month) Grid {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	start := first.AddDate(0, 0, -mondayOffset(first.Weekday()))
	last := time.Date(year, month, daysIn(month, year), 0, 0, 0, 0, time.UTC)

	g := Grid{Year: year, Month: month}
	for d := start; !d.After(last); {
		var week [7]Day
		for col := 0; col < 7; col++ {
			week[col] = Day{Date: d, InMonth: d.Month() == month}
			d = d.AddDate(0, 0, 1)
		}
		g.Weeks = append(g.Weeks, week)
	}
	return g
}

// Start is the first cell, possibly in the previous month.
func (g Grid) Start() time.Time { return g.Weeks[0][0].Date }

// End is the last cell, possibly in the next month.
func (g Grid) End() time.Time { return g.Weeks[len(g.Weeks)-1][6].Date }

// Next returns the following month's grid.
func (g Grid) Next() Grid {
	t := time.Date(g.Year, g.Month+1, 1, 0, 0, 0, 0, time.UTC)
	return NewGrid(t.Year(), t.Month())
}

// Prev returns the preceding month's grid.
func (g Grid) Prev() Grid {
	t := time.Date(g.Year, g.Month-1, 1, 0, 0, 0, 0, time.UTC)
	return NewGrid(t.Year(), t.Month())
}

// mondayOffset is the column of a weekday in a Monday-first week.
func mondayOffset(w time.Weekday) int {
	return (int(w) + 6) % 7
}

func daysIn(m time.Month, year int) int {
	switch m {
	case time.February:
		if (year%4 == 0 && year%100 != 0) || year%400 == 0 {
			return 29
		}
		return 28
	case time.April, time.June, time.September, time.November:
		return 30
	default:
		return 31
	}
}
