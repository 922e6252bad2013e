package common

import (
	"fmt"
	"math/rand"
	"time"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewTaskID generates a unique task ID for a site.
// Format: <site_id>-YYYYMMDD-HHMMSS-<rand4>
func NewTaskID(siteID string) string {
	return NewTaskIDAt(siteID, time.Now())
}

// NewTaskIDAt generates a task ID with an explicit timestamp
func NewTaskIDAt(siteID string, t time.Time) string {
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return fmt.Sprintf("%s-%s-%s", siteID, t.Format("20060102-150405"), suffix)
}
