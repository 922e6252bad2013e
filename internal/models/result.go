package models

import (
	"time"
)

// RatioSentinel is the exposed ratio for accounts with zero download
const RatioSentinel = 999_999

// Result holds the user statistics produced by one scrape, one-to-one with
// its task.
type Result struct {
	TaskID       string     `json:"task_id"`
	SiteID       string     `json:"site_id"`
	Username     string     `json:"username,omitempty"`
	UserClass    string     `json:"user_class,omitempty"`
	UID          string     `json:"uid,omitempty"`
	JoinTime     *time.Time `json:"join_time,omitempty"`
	LastActive   *time.Time `json:"last_active,omitempty"`
	Upload       int64      `json:"upload"`   // bytes
	Download     int64      `json:"download"` // bytes
	Ratio        float64    `json:"ratio"`
	Bonus        float64    `json:"bonus"`
	SeedingCount int        `json:"seeding_count"`
	SeedingSize  int64      `json:"seeding_size"` // bytes
	CreatedAt    time.Time  `json:"created_at"`
}

// DerivedRatio computes the exposed ratio. Zero download yields the sentinel
// rather than a division by zero.
func (r *Result) DerivedRatio() float64 {
	if r.Download == 0 {
		return RatioSentinel
	}
	return float64(r.Upload) / float64(r.Download)
}

// ResultCreate is the ingest payload for a scrape result
type ResultCreate struct {
	TaskID       string     `json:"task_id" validate:"required"`
	SiteID       string     `json:"site_id" validate:"required"`
	Username     string     `json:"username,omitempty"`
	UserClass    string     `json:"user_class,omitempty"`
	UID          string     `json:"uid,omitempty"`
	JoinTime     *time.Time `json:"join_time,omitempty"`
	LastActive   *time.Time `json:"last_active,omitempty"`
	Upload       int64      `json:"upload"`
	Download     int64      `json:"download"`
	Ratio        *float64   `json:"ratio,omitempty"` // derived when absent
	Bonus        float64    `json:"bonus"`
	SeedingCount int        `json:"seeding_count"`
	SeedingSize  int64      `json:"seeding_size"`
}

// CheckinOutcome enumerates the recorded result of a daily check-in
type CheckinOutcome string

const (
	CheckinSuccess CheckinOutcome = "success"
	CheckinAlready CheckinOutcome = "already"
	CheckinFailed  CheckinOutcome = "failed"
	CheckinNotSet  CheckinOutcome = "not_set"
)

// Successful reports whether the outcome counts as a completed check-in for
// the day. "already" counts: the action is idempotent.
func (o CheckinOutcome) Successful() bool {
	return o == CheckinSuccess || o == CheckinAlready
}

// CheckInResult records one check-in attempt, append-only per task
type CheckInResult struct {
	TaskID      string         `json:"task_id"`
	SiteID      string         `json:"site_id"`
	Result      CheckinOutcome `json:"result"`
	CheckinDate time.Time      `json:"checkin_date"` // midnight of the local day
	LastRunAt   time.Time      `json:"last_run_at"`
}

// MidnightOf truncates an instant to the midnight of its local day. The
// result is always in the local zone, whatever zone the input carries.
func MidnightOf(t time.Time) time.Time {
	year, month, day := t.Local().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.Local)
}
