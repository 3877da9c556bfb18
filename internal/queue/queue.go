// Package queue publishes accepted-submission events for the downstream
// reporting pipeline. The engine is publish-only; consumers live in the
// reporting subsystem.
package queue

import "context"

// AcceptedQueueName is the durable queue carrying accepted evaluation
// submissions.
const AcceptedQueueName = "evaluations.accepted"

// Publisher publishes submission events to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg SubmissionAcceptedMessage) error
	Close() error
}
