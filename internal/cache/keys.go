package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

// RateLimitKey buckets requests per tenant and fixed one-minute window.
func RateLimitKey(tenantID uuid.UUID, window int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", tenantID, window)
}

func VoicesKey() string {
	return "tts:voices"
}
