package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"telegram-twitter-relay/webhook"
)

// signatureHeader carries the base64 HMAC over the callback body.
const signatureHeader = "X-Twitter-Webhooks-Signature"

// maxWebhookBody bounds how much callback payload we are willing to read.
const maxWebhookBody = 1 << 20

func (r *Relay) handleWebhook(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.handleWebhookChallenge(w, req)
	case http.MethodPost:
		r.handleWebhookEvent(w, req)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWebhookChallenge answers the provider's CRC handshake probe.
func (r *Relay) handleWebhookChallenge(w http.ResponseWriter, req *http.Request) {
	crcToken := req.URL.Query().Get("crc_token")
	if crcToken == "" {
		http.Error(w, "Missing crc_token", http.StatusBadRequest)
		return
	}

	response, err := r.verifier.ChallengeResponse(crcToken)
	if err != nil {
		if errors.Is(err, webhook.ErrMissingSecret) {
			r.logger.Warn("CRC challenge received but no webhook secret configured")
			http.Error(w, "Webhook secret not configured", http.StatusBadRequest)
			return
		}
		r.logger.Error("CRC challenge failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	r.logger.Info("CRC challenge answered")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"response_token": response}); err != nil {
		r.logger.Warn("Failed to write challenge response", "error", err)
	}
}

// handleWebhookEvent processes a signed callback. Once the signature checks
// out the provider always gets a 200, even if a processing sub-step failed;
// anything else triggers redelivery storms on the provider side.
func (r *Relay) handleWebhookEvent(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		r.logger.Error("Failed to read webhook body", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	signature := req.Header.Get(signatureHeader)
	if !r.verifier.Verify(body, signature) {
		r.logger.Warn("Webhook signature missing or invalid", "has_signature", signature != "")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	events, err := webhook.ParseEvents(body)
	if err != nil {
		r.logger.Warn("Failed to parse webhook payload", "error", err)
	} else if len(events) > 0 {
		forwarded, err := r.HandleInbound(req.Context(), events)
		if err != nil {
			r.logger.Warn("Webhook event processing failed", "error", err)
		}
		r.logger.Info("Webhook events processed", "events", len(events), "forwarded", forwarded)
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, "OK"); err != nil {
		r.logger.Warn("Failed to write response", "error", err)
	}
}
