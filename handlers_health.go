package main

import (
	"fmt"
	"net/http"
)

// routes registers every HTTP endpoint on a fresh mux.
func (r *Relay) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", r.handleRoot)
	mux.HandleFunc("/health", r.handleHealth)
	mux.HandleFunc("/pollz", r.handlePoll)
	mux.HandleFunc("/webhook/twitter", r.handleWebhook)
	return mux
}

func (r *Relay) handleRoot(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, "OK"); err != nil {
		r.logger.Warn("Failed to write response", "error", err)
	}
}

func (r *Relay) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, "OK"); err != nil {
		r.logger.Warn("Failed to write health response", "error", err)
	}
}

