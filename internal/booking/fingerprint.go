package booking

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

type fingerprintItem struct {
	ResourceID string `json:"resource_id"`
	ServiceID  string `json:"service_id"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Before     int    `json:"buffer_before"`
	After      int    `json:"buffer_after"`
	Price      *int64 `json:"price,omitempty"`
}

type fingerprintPayload struct {
	ResourceID    string            `json:"resource_id"`
	ServiceID     string            `json:"service_id"`
	CustomerID    string            `json:"customer_id"`
	Start         string            `json:"start"`
	End           string            `json:"end"`
	Timezone      string            `json:"timezone"`
	AttendeeCount int               `json:"attendee_count"`
	Status        string            `json:"status"`
	Items         []fingerprintItem `json:"items"`
}

// Fingerprint hashes the canonical form of a creation request. Two requests
// that mean the same booking hash equally regardless of item order or the
// zone offset used to express their times.
func Fingerprint(req CreateRequest) string {
	p := fingerprintPayload{
		ResourceID:    req.ResourceID,
		ServiceID:     req.ServiceID,
		CustomerID:    req.CustomerID,
		Start:         canonicalTime(req.StartAt),
		End:           canonicalTime(req.EndAt),
		Timezone:      req.Timezone,
		AttendeeCount: attendees(req.AttendeeCount),
		Status:        string(req.Status),
	}
	if p.Status == "" {
		p.Status = "pending"
	}
	for _, it := range req.Items {
		p.Items = append(p.Items, fingerprintItem{
			ResourceID: it.ResourceID,
			ServiceID:  it.ServiceID,
			Start:      canonicalTime(it.StartAt),
			End:        canonicalTime(it.EndAt),
			Before:     it.BufferBeforeMinutes,
			After:      it.BufferAfterMinutes,
			Price:      it.Price,
		})
	}
	sort.Slice(p.Items, func(i, j int) bool {
		a, b := p.Items[i], p.Items[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.ResourceID != b.ResourceID {
			return a.ResourceID < b.ResourceID
		}
		return a.ServiceID < b.ServiceID
	})

	raw, _ := json.Marshal(p)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func canonicalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return normalize(t).Format(time.RFC3339)
}

func attendees(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
