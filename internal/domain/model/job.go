package model

import (
	"encoding/json"
	"time"
)

type JobType string

const (
	JobTypeEmbedDocument   JobType = "EMBED_DOCUMENT"
	JobTypeReembedDocument JobType = "REEMBED_DOCUMENT"
	JobTypeExtractTables   JobType = "EXTRACT_TABLES"
)

// JobTypes lists every job type the queue accepts.
var JobTypes = []JobType{JobTypeEmbedDocument, JobTypeReembedDocument, JobTypeExtractTables}

func (t JobType) Valid() bool {
	for _, jt := range JobTypes {
		if jt == t {
			return true
		}
	}
	return false
}

type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusRetry     JobStatus = "RETRY"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusDone      JobStatus = "DONE"
	JobStatusCancelled JobStatus = "CANCELLED" // set out of band only
)

// Terminal reports whether no further work will happen for the job.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed || s == JobStatusCancelled
}

// Claimable reports whether a dequeue may pick the job.
func (s JobStatus) Claimable() bool {
	return s == JobStatusPending || s == JobStatusRetry
}

// CanTransition encodes the queue state machine:
// PENDING|RETRY -> RUNNING -> DONE | PENDING (retry) | FAILED, plus out-of-band cancellation.
func CanTransition(from, to JobStatus) bool {
	switch to {
	case JobStatusRunning:
		return from.Claimable()
	case JobStatusDone, JobStatusFailed:
		return from == JobStatusRunning
	case JobStatusPending:
		return from == JobStatusRunning
	case JobStatusCancelled:
		return from == JobStatusPending || from == JobStatusRetry || from == JobStatusRunning
	default:
		return false
	}
}

type Job struct {
	ID             string
	Type           JobType
	Status         JobStatus
	SubjectID      string
	Priority       int
	Progress       int
	TotalItems     int
	ProcessedItems int
	RetryCount     int
	ErrorLog       *string
	Config         json.RawMessage
	Result         json.RawMessage
	WorkerID       *string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// OwnedBy reports whether workerID currently holds the job.
func (j *Job) OwnedBy(workerID string) bool {
	return j.WorkerID != nil && *j.WorkerID == workerID
}

// ComputeProgress returns floor(processed/total*100) clamped to [0, 100].
func ComputeProgress(processed, total int) int {
	if total <= 0 || processed <= 0 {
		return 0
	}
	if processed >= total {
		return 100
	}
	return processed * 100 / total
}
