package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ms-booking/internal/logger"

	"github.com/go-redis/redis/v8"
)

// ErrHeld is returned when another token already holds the slot.
var ErrHeld = errors.New("slot is held by another client")

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Holds keeps short-lived advisory claims on a (resource, start) slot while a
// client finishes checkout. The database stays the authority on occupancy.
type Holds struct {
	Client *redis.Client
	TTL    time.Duration
	log    *logger.Logger
}

func NewHolds(client *redis.Client, ttl time.Duration, log *logger.Logger) *Holds {
	if ttl <= 0 {
		// Default hold TTL is 5 minutes
		ttl = 5 * time.Minute
	}
	return &Holds{Client: client, TTL: ttl, log: log}
}

func holdKey(resourceID string, start time.Time) string {
	return "hold:" + resourceID + ":" + strconv.FormatInt(start.Unix(), 10)
}

// PlaceHold claims the slot for token. Placing the same token again refreshes
// the TTL.
func (h *Holds) PlaceHold(ctx context.Context, resourceID string, start time.Time, token string) error {
	if token == "" {
		return errors.New("hold token is required")
	}
	key := holdKey(resourceID, start)
	ok, err := h.Client.SetNX(ctx, key, token, h.TTL).Result()
	if err != nil {
		return fmt.Errorf("place hold: %w", err)
	}
	if ok {
		h.log.Debug("REDIS", fmt.Sprintf("hold placed on %s for %s", key, h.TTL))
		return nil
	}

	owner, err := h.HoldOwner(ctx, resourceID, start)
	if err != nil {
		return err
	}
	if owner != token {
		return ErrHeld
	}
	return h.Client.Expire(ctx, key, h.TTL).Err()
}

// HoldOwner returns the token holding the slot, or "" when it is free.
func (h *Holds) HoldOwner(ctx context.Context, resourceID string, start time.Time) (string, error) {
	val, err := h.Client.Get(ctx, holdKey(resourceID, start)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read hold: %w", err)
	}
	return val, nil
}

// ReleaseHold drops the hold if token still owns it. Releasing a hold that
// expired or belongs to someone else is not an error.
func (h *Holds) ReleaseHold(ctx context.Context, resourceID string, start time.Time, token string) error {
	key := holdKey(resourceID, start)
	n, err := releaseScript.Run(ctx, h.Client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("release hold: %w", err)
	}
	if n > 0 {
		h.log.Debug("REDIS", "hold released on "+key)
	}
	return nil
}
