package booking

import (
	"testing"
	"time"

	"ms-booking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveStatusPrecedence(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		flags StatusFlags
		want  models.BookingStatus
	}{
		{"requested only", StatusFlags{Requested: models.BookingConfirmed}, models.BookingConfirmed},
		{"no-show beats requested", StatusFlags{NoShow: true, Requested: models.BookingCompleted}, models.BookingNoShow},
		{"cancel beats no-show", StatusFlags{CancelledAt: &now, NoShow: true, Requested: models.BookingConfirmed}, models.BookingCanceled},
		{"cancel beats requested", StatusFlags{CancelledAt: &now, Requested: models.BookingCheckedIn}, models.BookingCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.flags))
		})
	}
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(models.BookingPending, models.BookingConfirmed))
	assert.True(t, CanTransition(models.BookingConfirmed, models.BookingNoShow))
	assert.True(t, CanTransition(models.BookingCheckedIn, models.BookingCompleted))
	assert.False(t, CanTransition(models.BookingCheckedIn, models.BookingCanceled))
	assert.False(t, CanTransition(models.BookingPending, models.BookingCompleted))

	for _, s := range []models.BookingStatus{models.BookingCompleted, models.BookingCanceled, models.BookingNoShow, models.BookingFailed} {
		assert.True(t, IsTerminal(s), s)
		for _, to := range models.AllBookingStatuses {
			assert.False(t, CanTransition(s, to), "%s -> %s", s, to)
		}
	}
}

func TestActiveSet(t *testing.T) {
	def := NewActiveSet()
	assert.True(t, def.Contains(models.BookingCompleted))
	assert.False(t, def.Contains(models.BookingCanceled))
	assert.Equal(t, DefaultActiveStatuses, def.Statuses())

	set, err := ParseActiveSet([]string{" Pending", "confirmed"})
	require.NoError(t, err)
	assert.Equal(t, []models.BookingStatus{models.BookingPending, models.BookingConfirmed}, set.Statuses())

	_, err = ParseActiveSet([]string{"pending", "archived"})
	assert.Error(t, err)
}

func TestIntervalOverlap(t *testing.T) {
	base := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	hour := Interval{Start: base, End: base.Add(time.Hour)}

	assert.True(t, hour.Overlaps(Interval{Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)}))
	assert.True(t, hour.Overlaps(Interval{Start: base.Add(10 * time.Minute), End: base.Add(20 * time.Minute)}))
	assert.False(t, hour.Overlaps(Interval{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}))
	assert.False(t, hour.Overlaps(Interval{Start: base.Add(-time.Hour), End: base}))
	assert.False(t, Interval{Start: base, End: base}.Valid())

	occ := Occupied(base, base.Add(time.Hour), 10, 15)
	assert.Equal(t, base.Add(-10*time.Minute), occ.Start)
	assert.Equal(t, base.Add(75*time.Minute), occ.End)
}

func TestFirstSelfOverlap(t *testing.T) {
	base := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	span := func(key string, from, to int) keyedInterval {
		return keyedInterval{key: key, Interval: Interval{
			Start: base.Add(time.Duration(from) * time.Minute),
			End:   base.Add(time.Duration(to) * time.Minute),
		}}
	}

	i, j := firstSelfOverlap([]keyedInterval{span("a", 0, 60), span("b", 30, 90), span("a", 60, 120)})
	assert.Equal(t, -1, i)
	assert.Equal(t, -1, j)

	i, j = firstSelfOverlap([]keyedInterval{span("a", 60, 120), span("b", 0, 60), span("a", 0, 61)})
	assert.ElementsMatch(t, []int{0, 2}, []int{i, j})
}

func TestResolveTimezone(t *testing.T) {
	tenant := models.Tenant{Timezone: "America/New_York"}
	room := models.Resource{Timezone: "Europe/London"}

	tz, err := ResolveTimezone("", models.Resource{}, tenant)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", tz)

	tz, err = ResolveTimezone("", room, tenant)
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", tz)

	tz, err = ResolveTimezone("Asia/Tokyo", room, tenant)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", tz)

	_, err = ResolveTimezone("Not/AZone", room, tenant)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ResolveTimezone("", models.Resource{}, models.Tenant{})
	assert.ErrorIs(t, err, ErrMissingTimezone)
}

func TestFingerprintIsCanonical(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	start := time.Date(2030, 1, 1, 15, 0, 0, 0, time.UTC)

	a := CreateRequest{
		ResourceID: "r1", ServiceID: "s1", CustomerID: "c1", StartAt: start,
		Items: []ItemRequest{
			{ResourceID: "r1", StartAt: start, EndAt: start.Add(time.Hour)},
			{ResourceID: "r2", StartAt: start, EndAt: start.Add(time.Hour)},
		},
	}
	b := a
	b.StartAt = start.In(ny)
	b.Status = models.BookingPending
	b.AttendeeCount = 1
	b.Items = []ItemRequest{a.Items[1], a.Items[0]}

	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	c := a
	c.CustomerID = "c2"
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}
