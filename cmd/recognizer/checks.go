package main

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/health"
)

type ingestCounters interface {
	Processed() int64
	Failed() int64
}

// ingestCheck reports the consumer as degraded once it has failed more
// messages than it processed.
func ingestCheck(c ingestCounters) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		processed, failed := c.Processed(), c.Failed()
		status := health.StatusUp
		if failed > processed {
			status = health.StatusDegraded
		}
		return health.ComponentHealth{
			Status:  status,
			Message: fmt.Sprintf("%d processed, %d failed", processed, failed),
		}
	}
}
