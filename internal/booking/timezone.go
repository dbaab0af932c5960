package booking

import (
	"strings"
	"time"

	"ms-booking/internal/models"
)

// ResolveTimezone picks the booking zone: explicit request value, then the
// resource zone, then the tenant zone. An explicit value that does not load is
// rejected rather than silently skipped.
func ResolveTimezone(explicit string, resource models.Resource, tenant models.Tenant) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if !validZone(explicit) {
			return "", validationf("unknown timezone %q", explicit)
		}
		return explicit, nil
	}
	for _, candidate := range []string{resource.Timezone, tenant.Timezone} {
		candidate = strings.TrimSpace(candidate)
		if candidate != "" && validZone(candidate) {
			return candidate, nil
		}
	}
	return "", ErrMissingTimezone
}

func validZone(name string) bool {
	_, err := time.LoadLocation(name)
	return err == nil
}
