/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/themeline/internal/eventbus"
	"github.com/friendsincode/themeline/internal/events"
)

// handleEventSocket streams status events to a WebSocket client. The
// optional "types" query parameter narrows the subscription.
func (s *Server) handleEventSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = eventbus.ForwardedTypes
	}

	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, s.bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			s.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	s.logger.Debug().Str("remote", r.RemoteAddr).Int("types", len(eventTypes)).Msg("event stream client connected")

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				s.logger.Debug().Err(err).Msg("websocket ping failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload := <-sub:
					if err := writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						s.logger.Debug().Err(err).Msg("websocket write failed")
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data := map[string]any{
		"type":      eventType,
		"payload":   payload,
		"timestamp": time.Now().Format(time.RFC3339Nano),
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}

// parseEventTypes splits a comma-separated list into known event types.
func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}

	known := make(map[events.EventType]struct{}, len(eventbus.ForwardedTypes))
	for _, eventType := range eventbus.ForwardedTypes {
		known[eventType] = struct{}{}
	}

	var parsed []events.EventType
	for _, part := range strings.Split(raw, ",") {
		eventType := events.EventType(strings.TrimSpace(part))
		if _, ok := known[eventType]; ok {
			parsed = append(parsed, eventType)
		}
	}
	return parsed
}
