package api

import (
	"context"

	match "github.com/0x5487/mocktrading"
)

// Submitter hands an order action to the matching side. The Kafka producer
// implements it; DirectSubmitter calls the lifecycle service in process.
type Submitter interface {
	Submit(ctx context.Context, order *match.Order) error
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, order *match.Order) error

func (f SubmitterFunc) Submit(ctx context.Context, order *match.Order) error {
	return f(ctx, order)
}

// DirectSubmitter processes every action synchronously, so validation
// errors reach the caller.
func DirectSubmitter(p match.OrderProcessor) Submitter {
	return SubmitterFunc(func(ctx context.Context, order *match.Order) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return p.Process(order)
	})
}
