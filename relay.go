package main

import (
	"context"
	"log/slog"
	"time"

	"telegram-twitter-relay/media"
	"telegram-twitter-relay/pkg/relay"
	"telegram-twitter-relay/poll"
	"telegram-twitter-relay/webhook"
)

// postDispatcher validates and publishes operator posts.
type postDispatcher interface {
	Dispatch(ctx context.Context, text string, assets []media.Asset) (relay.PostResult, error)
}

// dmPoller is the poller lifecycle surface.
type dmPoller interface {
	WakeUp(ctx context.Context) poll.Result
	Stop()
	Status() relay.PollState
	CheckOnce(ctx context.Context) error
}

// dedupLedger is the atomic check-then-record primitive.
type dedupLedger interface {
	CheckAndRecord(ctx context.Context, id string, firstSeen time.Time) (bool, error)
}

// dmForwarder delivers one inbound message to the operator chat.
type dmForwarder interface {
	ForwardDirectMessage(ctx context.Context, ev relay.DirectMessageEvent) error
}

// identityProber exposes the authenticated account for echo suppression and
// connectivity checks.
type identityProber interface {
	SelfID(ctx context.Context) string
	TestConnectivity(ctx context.Context) bool
}

// Relay composes the components and is the surface the presentation layer
// (chat command handlers, HTTP handlers) calls into.
type Relay struct {
	dispatcher postDispatcher
	poller     dmPoller
	ledger     dedupLedger
	forwarder  dmForwarder
	identity   identityProber
	verifier   *webhook.Verifier
	logger     *slog.Logger
}

// DispatchPost publishes one operator post, text-only or with images.
func (r *Relay) DispatchPost(ctx context.Context, text string, assets []media.Asset) (relay.PostResult, error) {
	return r.dispatcher.Dispatch(ctx, text, assets)
}

// WakeUpPolling activates the DM poller.
func (r *Relay) WakeUpPolling(ctx context.Context) poll.Result {
	return r.poller.WakeUp(ctx)
}

// PollingStatus returns a snapshot of the poller.
func (r *Relay) PollingStatus() relay.PollState {
	return r.poller.Status()
}

// StopPolling deactivates the DM poller.
func (r *Relay) StopPolling() {
	r.poller.Stop()
}

// TestConnectivity probes the Twitter API. Never fails loudly.
func (r *Relay) TestConnectivity(ctx context.Context) bool {
	return r.identity.TestConnectivity(ctx)
}

// HandleInbound is the single converged path for both ingestion routes
// (poller and webhook). Each event is checked-and-recorded in the ledger
// atomically before it is forwarded, so a message delivered on both routes
// reaches the chat exactly once. Events are forwarded in input order.
func (r *Relay) HandleInbound(ctx context.Context, events []relay.DirectMessageEvent) (int, error) {
	self := r.identity.SelfID(ctx)

	forwarded := 0
	var lastErr error
	for _, ev := range events {
		if ev.SenderID != "" && ev.SenderID == self {
			continue // echo of our own outbound message
		}

		isNew, err := r.ledger.CheckAndRecord(ctx, ev.ID, time.Now())
		if err != nil {
			r.logger.Warn("Ledger record failed, message not forwarded", "message_id", ev.ID, "error", err)
			lastErr = err
			continue
		}
		if !isNew {
			continue
		}

		if err := r.forwarder.ForwardDirectMessage(ctx, ev); err != nil {
			// The id is already recorded; the message is dropped rather
			// than risking a duplicate on redelivery.
			r.logger.Warn("Forward failed for recorded message", "message_id", ev.ID, "error", err)
			lastErr = err
			continue
		}
		forwarded++
	}

	return forwarded, lastErr
}
