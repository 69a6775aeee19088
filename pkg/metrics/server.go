package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// NewMux serves the scrape endpoint at /metrics. The root page lists the
// recognizer's own metric families, one per line.
func NewMux(g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(g))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		families, err := g.Gather()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "/metrics")
		for _, mf := range families {
			if strings.HasPrefix(mf.GetName(), namespace+"_") {
				fmt.Fprintf(w, "%s\t%s\n", mf.GetName(), mf.GetType())
			}
		}
	})
	return mux
}

// StartServer listens on port in the background. The returned function shuts
// the listener down.
func StartServer(port int, g prometheus.Gatherer) (shutdown func(context.Context) error) {
	log := logger.WithComponent("metrics")
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewMux(g),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()
	return server.Shutdown
}
