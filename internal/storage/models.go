package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Submission statuses.
const (
	SubmissionSucceeded = "succeeded"
	SubmissionFailed    = "failed"
)

// GeocodeEntry is a cached country resolution. Country is stored normalized
// (trimmed, lower case).
type GeocodeEntry struct {
	Country    string
	Lat        float64
	Lng        float64
	ResolvedAt time.Time
}

// Submission records the outcome of one profile update attempt.
type Submission struct {
	ID            string    `json:"id"`
	ProfileID     string    `json:"profile_id"`
	SubmittedAt   time.Time `json:"submitted_at"`
	Status        string    `json:"status"` // "succeeded", "failed"
	Country       string    `json:"country"`
	PhotoUploaded bool      `json:"photo_uploaded"`
	Error         string    `json:"error,omitempty"`
}
