package booking

import (
	"sort"
	"time"
)

// Interval is a half-open [Start, End) span.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

// Overlaps is false for intervals that only touch at an edge.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Occupied widens the interval by the buffers around it.
func Occupied(start, end time.Time, bufferBefore, bufferAfter int) Interval {
	return Interval{
		Start: start.Add(-time.Duration(bufferBefore) * time.Minute),
		End:   end.Add(time.Duration(bufferAfter) * time.Minute),
	}
}

// normalize puts times on a second boundary in UTC so every store compares
// them the same way.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

type keyedInterval struct {
	key string
	Interval
}

// firstSelfOverlap returns the index pair of two intervals sharing a key and
// an instant, or -1, -1.
func firstSelfOverlap(items []keyedInterval) (int, int) {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ia, ib := items[idx[a]], items[idx[b]]
		if ia.key != ib.key {
			return ia.key < ib.key
		}
		return ia.Start.Before(ib.Start)
	})
	for n := 1; n < len(idx); n++ {
		prev, cur := items[idx[n-1]], items[idx[n]]
		if prev.key == cur.key && prev.Overlaps(cur.Interval) {
			return idx[n-1], idx[n]
		}
	}
	return -1, -1
}
