package domain

import (
	"errors"
	"fmt"
	"sort"
)

// FailureKind decides the retry policy for a failed stage.
type FailureKind int

const (
	KindTransient FailureKind = iota + 1
	KindStructural
	KindPersistenceIntegrity
)

func (k FailureKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindStructural:
		return "structural"
	case KindPersistenceIntegrity:
		return "persistence_integrity"
	default:
		return "unknown"
	}
}

// StageError carries the classification chosen by the code that observed the failure.
type StageError struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *StageError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Transient marks err as retryable (timeouts, rate limits, unavailable dependencies).
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Kind: KindTransient, Op: op, Err: err}
}

// Structural marks err as terminal (malformed or corrupt input).
func Structural(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Kind: KindStructural, Op: op, Err: err}
}

// IntegrityError reports that the backing store does not hold what was written.
type IntegrityError struct {
	Tenant     string
	DocumentID string
	Expected   int
	Actual     int
	Missing    []int
	Unexpected []int
	Reason     string
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("persistence integrity violated for document %s (tenant %s): expected %d chunks, store holds %d",
		e.DocumentID, e.Tenant, e.Expected, e.Actual)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if len(e.Missing) > 0 {
		msg += fmt.Sprintf("; missing indices %s", summarize(e.Missing))
	}
	if len(e.Unexpected) > 0 {
		msg += fmt.Sprintf("; unexpected indices %s", summarize(e.Unexpected))
	}
	return msg
}

func summarize(idx []int) string {
	s := append([]int(nil), idx...)
	sort.Ints(s)
	if len(s) > 10 {
		return fmt.Sprintf("%v... (%d total)", s[:10], len(s))
	}
	return fmt.Sprintf("%v", s)
}

// KindOf classifies err. Unclassified errors are treated as transient so that
// they stay bounded by the job's retry budget.
func KindOf(err error) FailureKind {
	if err == nil {
		return 0
	}
	var integrity *IntegrityError
	if errors.As(err, &integrity) {
		return KindPersistenceIntegrity
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrInvalidJobConfig) || errors.Is(err, ErrUnknownJobType) || errors.Is(err, ErrNoContent) {
		return KindStructural
	}
	return KindTransient
}

// IsRetryable reports whether a failure may be retried.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}
