/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/friendsincode/themeline/internal/events"
)

// Bus is the remote side of the forwarder, satisfied by RedisBus and
// NATSBus.
type Bus interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Publish(eventType events.EventType, payload events.Payload)
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
	// Degraded reports whether the backend is operating in-memory only.
	Degraded() bool
	Close() error
}

// originKey marks payloads injected from a remote node so the forwarder
// does not echo them back out.
const originKey = "_origin_node"

// ForwardedTypes are the status events mirrored across nodes.
var ForwardedTypes = []events.EventType{
	events.EventPlaybackStarted,
	events.EventPlaybackStopped,
	events.EventPlaybackPaused,
	events.EventPlaybackResumed,
	events.EventTrackEnded,
	events.EventFadeCompleted,
	events.EventSelectionDecided,
	events.EventAmbientMuted,
	events.EventAmbientRestored,
	events.EventItemUpdated,
	events.EventItemDeleted,
	events.EventTrackUpdated,
}

// Forwarder mirrors events between the in-process bus and a distributed
// backend in both directions.
type Forwarder struct {
	local  *events.Bus
	remote Bus
	logger zerolog.Logger
}

// NewForwarder creates a forwarder. Run starts the mirroring.
func NewForwarder(local *events.Bus, remote Bus, logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		local:  local,
		remote: remote,
		logger: logger.With().Str("component", "event-forwarder").Logger(),
	}
}

// Run mirrors events until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	f.logger.Info().Int("types", len(ForwardedTypes)).Msg("event forwarding started")
	for _, eventType := range ForwardedTypes {
		go f.mirrorOut(ctx, eventType)
		go f.mirrorIn(ctx, eventType)
	}
	<-ctx.Done()
}

// mirrorOut republishes local events to the remote backend.
func (f *Forwarder) mirrorOut(ctx context.Context, eventType events.EventType) {
	sub := f.local.Subscribe(eventType)
	defer f.local.Unsubscribe(eventType, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			// Remote-injected events carry an origin marker.
			if _, remote := payload[originKey]; remote {
				continue
			}
			f.remote.Publish(eventType, payload)
		}
	}
}

// mirrorIn injects remote events into the local bus.
func (f *Forwarder) mirrorIn(ctx context.Context, eventType events.EventType) {
	sub := f.remote.Subscribe(eventType)
	defer f.remote.Unsubscribe(eventType, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			// A degraded backend loops local publishes back through its
			// in-memory fallback; those are not remote events.
			if f.remote.Degraded() {
				continue
			}
			if payload == nil {
				payload = events.Payload{}
			}
			payload[originKey] = true
			f.local.Publish(eventType, payload)
		}
	}
}
