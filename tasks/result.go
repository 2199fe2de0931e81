package tasks

import (
	"time"

	"clipsmith/queue"
)

// Status classifies how a unit of work ended. The retry decision is a pure
// function of this value and the envelope's attempt counter; nothing is
// signalled through error types or panics.
type Status int

const (
	StatusSuccess Status = iota
	StatusRetryable
	StatusTerminal
)

// Outcome is the result of executing one envelope.
type Outcome struct {
	Status  Status
	Preview string
	Err     error
}

// Succeed builds a success outcome with a result preview for the ledger.
func Succeed(preview string) Outcome {
	return Outcome{Status: StatusSuccess, Preview: preview}
}

// Retryable builds an outcome that asks for another attempt, budget
// permitting.
func Retryable(err error) Outcome {
	return Outcome{Status: StatusRetryable, Err: err}
}

// Terminal builds an outcome that ends the unit of work immediately.
func Terminal(err error) Outcome {
	return Outcome{Status: StatusTerminal, Err: err}
}

// RetryPolicy bounds how often a kind may be re-enqueued after a retryable
// failure and with what delay.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// PolicyFor returns the retry policy for a task kind. Orchestration and
// dispatch failures are never retried automatically: re-dispatch is the
// caller's responsibility, which avoids duplicate segment floods.
func PolicyFor(kind queue.Kind) RetryPolicy {
	switch kind {
	case queue.KindDownload:
		return RetryPolicy{MaxRetries: 2, Delay: 30 * time.Second}
	case queue.KindProcessClip:
		return RetryPolicy{MaxRetries: 1, Delay: 60 * time.Second}
	case queue.KindOrchestrate, queue.KindBatchDispatch:
		return RetryPolicy{}
	}
	return RetryPolicy{}
}
