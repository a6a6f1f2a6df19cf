package model

import "time"

// DateLayout is the ISO day format used for preferred dates and blocked dates.
const DateLayout = "2006-01-02"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// statusTransitions lists every status change exposed to admins.
// Nothing leads back to pending.
var statusTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted},
	StatusCompleted: nil,
	StatusCancelled: nil,
}

func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransition reports whether an admin may move a booking from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from s.
func NextStatuses(s Status) []Status {
	return append([]Status(nil), statusTransitions[s]...)
}

type JobSize string

const (
	JobSmall  JobSize = "small"
	JobMedium JobSize = "medium"
	JobLarge  JobSize = "large"
)

func (j JobSize) Valid() bool {
	switch j {
	case JobSmall, JobMedium, JobLarge:
		return true
	}
	return false
}

type TimeSlot string

const (
	SlotMorning   TimeSlot = "morning"
	SlotAfternoon TimeSlot = "afternoon"
	SlotFlexible  TimeSlot = "flexible"
)

func (t TimeSlot) Valid() bool {
	switch t {
	case SlotMorning, SlotAfternoon, SlotFlexible:
		return true
	}
	return false
}

// Booking is one customer service request as returned by the backend.
type Booking struct {
	ID            string    `json:"id"`
	BookingRef    string    `json:"bookingRef"`
	ServiceID     string    `json:"serviceId"`
	JobSize       JobSize   `json:"jobSize,omitempty"`
	Suburb        string    `json:"suburb"`
	Postcode      string    `json:"postcode"`
	Description   string    `json:"description,omitempty"`
	PreferredDate string    `json:"preferredDate"`
	TimeSlot      TimeSlot  `json:"timeSlot"`
	CustomerName  string    `json:"customerName,omitempty"`
	CustomerEmail string    `json:"customerEmail,omitempty"`
	CustomerPhone string    `json:"customerPhone"`
	Status        Status    `json:"status"`
	Notes         string    `json:"notes,omitempty"`
	Files         []File    `json:"files,omitempty"`
	User          *User     `json:"user,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Editable reports whether the owner may still change the booking.
func (b *Booking) Editable() bool {
	return b.Status != StatusConfirmed && b.Status != StatusCancelled
}

// Date parses PreferredDate; the zero time is returned when it is empty or malformed.
func (b *Booking) Date() time.Time {
	t, err := time.Parse(DateLayout, b.PreferredDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Page is the backend's paginated list envelope.
type Page[T any] struct {
	Content    []T `json:"content"`
	Page       int `json:"page"`
	TotalPages int `json:"totalPages"`
}
