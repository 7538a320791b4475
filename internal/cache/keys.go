package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func SeenEventKey(eventID string) string {
	return fmt.Sprintf("vidvault:seen:%s", eventID)
}

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("vidvault:job:%s", jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("vidvault:ratelimit:%s", client)
}
