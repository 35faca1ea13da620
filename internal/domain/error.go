package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Queue errors
	ErrSubjectNotFound   = errors.New("subject does not exist")
	ErrIllegalTransition = errors.New("illegal job status transition")
	ErrJobNotOwned       = errors.New("job is not owned by this worker")
	ErrJobCancelled      = errors.New("job was cancelled")
	ErrInvalidJobConfig  = errors.New("invalid job config")
	ErrUnknownJobType    = errors.New("unknown job type")

	// Pipeline errors
	ErrBackwardStage   = errors.New("pipeline stage cannot move backwards")
	ErrPipelineClosed  = errors.New("pipeline run already finished")
	ErrNoContent       = errors.New("document produced no content")
	ErrLockNotAcquired = errors.New("document is locked by another job")

	// Storage errors
	ErrInvalidTenant    = errors.New("invalid tenant")
	ErrChunksNotStored  = errors.New("chunks failed to persist")
	ErrRateLimited      = errors.New("rate limited")
	ErrDependencyClosed = errors.New("dependency unavailable")
)
