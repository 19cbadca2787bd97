package queue

import "context"

// Job handles one message type. Handle returning an error wrapped with Drop
// ends the message; any other error schedules a retry until RetryLimit.
type Job interface {
	Name() string
	// Type is the message type routed to this job; one job per type.
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}
