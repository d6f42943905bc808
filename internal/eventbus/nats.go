/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/themeline/internal/events"
)

// natsSubjectPrefix namespaces our subjects on a shared NATS server.
const natsSubjectPrefix = "themeline.events."

// NATSBus bridges the in-process bus to NATS subjects, one subject per
// event type. Like RedisBus it degrades to in-memory delivery when the
// server is unreachable.
type NATSBus struct {
	conn     *nats.Conn
	logger   zerolog.Logger
	fallback *events.Bus
	nodeID   string

	mu       sync.RWMutex
	subs     map[events.EventType][]events.Subscriber
	natsSubs map[events.EventType]*nats.Subscription

	useFallback bool
}

// NewNATSBus connects to a NATS server. Falls back to the in-memory bus
// if the connection fails.
func NewNATSBus(natsURL, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	nb := &NATSBus{
		logger:   logger,
		fallback: events.NewBus(),
		nodeID:   nodeID,
		subs:     make(map[events.EventType][]events.Subscriber),
		natsSubs: make(map[events.EventType]*nats.Subscription),
	}

	conn, err := nats.Connect(natsURL,
		nats.Name("themeline-"+nodeID),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		logger.Warn().Err(err).Str("url", natsURL).Msg("NATS connection failed, using in-memory fallback")
		nb.useFallback = true
		return nb, nil
	}

	nb.conn = conn
	logger.Info().Str("url", natsURL).Msg("NATS event bus initialized")
	return nb, nil
}

func subjectFor(eventType events.EventType) string {
	return natsSubjectPrefix + string(eventType)
}

// Subscribe registers a subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	if nb.useFallback {
		return nb.fallback.Subscribe(eventType)
	}

	sub := make(events.Subscriber, 100)
	nb.subs[eventType] = append(nb.subs[eventType], sub)

	if _, exists := nb.natsSubs[eventType]; !exists {
		natsSub, err := nb.conn.Subscribe(subjectFor(eventType), func(msg *nats.Msg) {
			nb.deliver(eventType, msg.Data)
		})
		if err != nil {
			nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("NATS subscribe failed")
		} else {
			nb.natsSubs[eventType] = natsSub
		}
	}

	return sub
}

func (nb *NATSBus) deliver(eventType events.EventType, data []byte) {
	wireMsg, err := unmarshalMessage(data)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to unmarshal NATS message")
		return
	}

	// Skip our own messages to prevent echo.
	if wireMsg.NodeID == nb.nodeID {
		return
	}

	nb.mu.RLock()
	subs := nb.subs[eventType]
	nb.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub <- wireMsg.Payload:
		default:
			nb.logger.Warn().Str("event_type", string(eventType)).Msg("subscriber channel full, dropping event")
		}
	}
}

// Publish sends an event payload to local and remote subscribers.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.fallback.Publish(eventType, payload)

	nb.mu.RLock()
	fallbackOnly := nb.useFallback
	nb.mu.RUnlock()
	if fallbackOnly {
		return
	}

	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal NATS message")
		return
	}

	if err := nb.conn.Publish(subjectFor(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to NATS")
	}
}

// Unsubscribe removes a subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	if nb.useFallback {
		nb.fallback.Unsubscribe(eventType, sub)
		return
	}

	subs := nb.subs[eventType]
	for i, s := range subs {
		if s == sub {
			nb.subs[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}

	if len(nb.subs[eventType]) == 0 {
		if natsSub, exists := nb.natsSubs[eventType]; exists {
			if err := natsSub.Unsubscribe(); err != nil {
				nb.logger.Debug().Err(err).Msg("NATS unsubscribe failed")
			}
			delete(nb.natsSubs, eventType)
		}
	}
}

// Degraded reports whether the bus fell back to in-memory delivery.
func (nb *NATSBus) Degraded() bool {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return nb.useFallback
}

// Close drains the NATS connection.
func (nb *NATSBus) Close() error {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	if nb.conn != nil {
		if err := nb.conn.Drain(); err != nil {
			return fmt.Errorf("drain NATS connection: %w", err)
		}
	}
	return nil
}
