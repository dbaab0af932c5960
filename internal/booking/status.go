package booking

import (
	"fmt"
	"strings"
	"time"

	"ms-booking/internal/models"
)

// StatusFlags are the inputs of status derivation.
type StatusFlags struct {
	CancelledAt *time.Time
	NoShow      bool
	Requested   models.BookingStatus
}

// DeriveStatus applies the precedence cancelled > no-show > requested.
func DeriveStatus(f StatusFlags) models.BookingStatus {
	if f.CancelledAt != nil {
		return models.BookingCanceled
	}
	if f.NoShow {
		return models.BookingNoShow
	}
	return f.Requested
}

func flagsOf(b *models.Booking) StatusFlags {
	return StatusFlags{CancelledAt: b.CancelledAt, NoShow: b.NoShow, Requested: b.RequestedStatus}
}

// ActiveSet is the set of statuses whose bookings occupy time on a resource.
type ActiveSet map[models.BookingStatus]struct{}

// DefaultActiveStatuses keeps completed bookings blocking.
var DefaultActiveStatuses = []models.BookingStatus{
	models.BookingPending,
	models.BookingConfirmed,
	models.BookingCheckedIn,
	models.BookingCompleted,
}

func NewActiveSet(statuses ...models.BookingStatus) ActiveSet {
	if len(statuses) == 0 {
		statuses = DefaultActiveStatuses
	}
	set := make(ActiveSet, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

// ParseActiveSet builds an ActiveSet from configuration strings.
func ParseActiveSet(values []string) (ActiveSet, error) {
	statuses := make([]models.BookingStatus, 0, len(values))
	for _, v := range values {
		s := models.BookingStatus(strings.TrimSpace(strings.ToLower(v)))
		if !s.Valid() {
			return nil, fmt.Errorf("unknown booking status %q in active set", v)
		}
		statuses = append(statuses, s)
	}
	return NewActiveSet(statuses...), nil
}

func (a ActiveSet) Contains(s models.BookingStatus) bool {
	_, ok := a[s]
	return ok
}

func (a ActiveSet) Statuses() []models.BookingStatus {
	out := make([]models.BookingStatus, 0, len(a))
	for _, s := range models.AllBookingStatuses {
		if a.Contains(s) {
			out = append(out, s)
		}
	}
	return out
}

var transitions = map[models.BookingStatus][]models.BookingStatus{
	models.BookingPending:   {models.BookingConfirmed, models.BookingCanceled, models.BookingNoShow, models.BookingFailed},
	models.BookingConfirmed: {models.BookingCheckedIn, models.BookingCompleted, models.BookingCanceled, models.BookingNoShow},
	models.BookingCheckedIn: {models.BookingCompleted},
	models.BookingCompleted: {},
	models.BookingCanceled:  {},
	models.BookingNoShow:    {},
	models.BookingFailed:    {},
}

// CanTransition reports whether from -> to is allowed. Terminal states have no
// way out.
func CanTransition(from, to models.BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(s models.BookingStatus) bool {
	return len(transitions[s]) == 0
}

func checkTransition(from, to models.BookingStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
