package main

import (
	"fmt"
	"net/http"
)

// handlePoll runs one fetch-filter-forward cycle on demand, for external
// schedulers that prefer pushing ticks over a long-lived internal loop.
func (r *Relay) handlePoll(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.logger.Info("Poll endpoint triggered")

	if err := r.poller.CheckOnce(req.Context()); err != nil {
		r.logger.Error("Poll check failed", "error", err)
		http.Error(w, "Check failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"completed"}`); err != nil {
		r.logger.Warn("Failed to write response", "error", err)
	}
}
