package httpapi

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// frameCacheTTL bounds how long a /process-frame response is replayed for a
// repeated frame_id — spec.md §8's testable property is idempotency within
// a sliding 5-minute window, so the cache must outlive that window.
const frameCacheTTL = 5 * time.Minute

// frameCache is the Redis-backed idempotency cache for /process-frame,
// grounded on the teacher's RTPPortAllocator's direct *redis.Client idiom
// (api/assistant-api/sip/infra/rtp_port_allocator.go).
type frameCache struct {
	client *redis.Client
}

func newFrameCache(client *redis.Client) *frameCache {
	return &frameCache{client: client}
}

// Get returns the cached response body for frameID, or (nil, false) on a
// cache miss (including when Redis itself is unavailable — the cache is an
// optimization, not a correctness requirement, so a miss just means the
// frame is reprocessed).
func (c *frameCache) Get(ctx context.Context, frameID string) ([]byte, bool) {
	if c.client == nil || frameID == "" {
		return nil, false
	}
	val, err := c.client.Get(ctx, frameCacheKey(frameID)).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

// Put stores the response body for frameID for frameCacheTTL. Best-effort:
// a write failure is not propagated since it only costs a redundant
// reprocess on the next retry.
func (c *frameCache) Put(ctx context.Context, frameID string, body []byte) {
	if c.client == nil || frameID == "" {
		return
	}
	c.client.Set(ctx, frameCacheKey(frameID), body, frameCacheTTL)
}

func frameCacheKey(frameID string) string {
	return "process-frame:" + frameID
}
