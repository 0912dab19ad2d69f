package tokenstore

import "context"

// Store reads, writes and removes tokens keyed by a caller-defined string.
//
// Implementations never return errors to the caller. Storage faults are logged
// and reported through Result so the caller can fall back to re-authenticating.
type Store interface {
	// Read returns the token stored under key. StatusAbsent if there is none.
	Read(ctx context.Context, key string) Result

	// Write stores value under key, replacing any previous value.
	Write(ctx context.Context, key, value string) Result

	// Remove forgets the token stored under key.
	Remove(ctx context.Context, key string) Result
}

// Status classifies the outcome of a Store operation.
type Status uint8

const (
	// StatusAbsent means there was nothing to read or nothing to do.
	StatusAbsent Status = iota
	// StatusOK means the token was found, or the write or removal was applied.
	StatusOK
	// StatusFailed is a non-fatal storage fault. It has already been logged.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of a Store operation.
type Result struct {
	Status Status
	// Value is the token for a successful Read.
	Value string
	// Err is the cause of a StatusFailed result.
	Err error
}

// OK reports whether the token was found, or the write or removal was applied.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

func ok(value string) Result {
	return Result{Status: StatusOK, Value: value}
}

func done() Result {
	return Result{Status: StatusOK}
}

func absent() Result {
	return Result{Status: StatusAbsent}
}

func failed(err error) Result {
	return Result{Status: StatusFailed, Err: err}
}
