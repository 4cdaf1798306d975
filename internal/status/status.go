package status

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Manager is a minimal Redis-backed status writer so external
// dashboards can observe the linker without polling its HTTP API.
// It writes keys in the format: linker-status:{phone}
// Accepted values: disconnected, connecting, qr_ready, online
type Manager struct {
	client *redis.Client
	prefix string
}

var mgr *Manager

// Init initialises the global status manager with the given Redis URL.
// If url is empty, status updates are no-ops.
func Init(redisURL string) {
	if strings.TrimSpace(redisURL) == "" {
		mgr = &Manager{client: nil, prefix: "linker-status:"}
		return
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		// Fallback to disabled if parse fails
		mgr = &Manager{client: nil, prefix: "linker-status:"}
		return
	}
	c := redis.NewClient(opt)
	// Ping with short timeout to validate
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.Ping(ctx).Err()
	mgr = &Manager{client: c, prefix: "linker-status:"}
}

// Set writes the status value for the given device id.  The id should
// be digits-only; callers may pass raw JIDs, this helper strips
// non-digits and falls back to "default" before a device is paired.
func Set(deviceID, value string) {
	if mgr == nil || mgr.client == nil {
		return
	}
	phone := digitsOnly(deviceID)
	if phone == "" {
		phone = "default"
	}
	key := mgr.prefix + phone
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = mgr.client.Set(ctx, key, strings.TrimSpace(value), 0).Err()
}

func digitsOnly(s string) string {
	b := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b = append(b, r)
		}
	}
	return string(b)
}
