package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// stopper is the part of *http.Server the shutdown sequence needs.
type stopper interface {
	Shutdown(ctx context.Context) error
}

// shutdown tears the service down in dependency order: stop taking HTTP
// requests, wait for the ingest workers, take the final snapshot, then run
// closers in order. Nothing that can write to the index or track an event
// is still running when the closers run.
type shutdown struct {
	server        stopper
	timeout       time.Duration
	workers       *sync.WaitGroup
	stopSnapshots context.CancelFunc
	snapshotDone  <-chan struct{}
	closers       []func()
}

func (s *shutdown) run() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		cancel()
	}
	if s.workers != nil {
		s.workers.Wait()
	}
	if s.stopSnapshots != nil {
		s.stopSnapshots()
	}
	if s.snapshotDone != nil {
		<-s.snapshotDone
	}
	for _, c := range s.closers {
		c()
	}
}
