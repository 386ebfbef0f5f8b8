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
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/reeltime/internal/events"
	"github.com/friendsincode/reeltime/internal/telemetry"
)

const (
	wsPingInterval   = 15 * time.Second
	wsSubscriberSize = 64
)

// streamTypes are sent when the client does not pick any.
var streamTypes = []events.EventType{
	events.EventPlaybackTime,
	events.EventPlaybackState,
	events.EventPlaybackEnd,
	events.EventSegmentChange,
	events.EventMediaError,
	events.EventSegmentsUpdated,
}

type streamEvent struct {
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload"`
}

// handleEvents streams the notifications of one project over a WebSocket.
// ?types=playback.state,timeline.segment narrows the stream.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = streamTypes
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	clientID := uuid.NewString()
	logger := a.logger.With().Str("client_id", clientID).Str("project_id", projectID).Logger()
	logger.Debug().Int("types", len(eventTypes)).Msg("event stream opened")

	// Clients never send; CloseRead cancels ctx once the peer goes away.
	ctx, cancel := context.WithCancel(conn.CloseRead(r.Context()))

	out := make(chan streamEvent, wsSubscriberSize)
	var wg sync.WaitGroup
	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		sub := a.bus.SubscribeBuffered(eventType, wsSubscriberSize)
		subscribers = append(subscribers, sub)
		wg.Add(1)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer wg.Done()
			for payload := range sub {
				if id, _ := payload["project_id"].(string); id != projectID {
					continue
				}
				select {
				case out <- streamEvent{Type: eventType, Payload: payload}:
				case <-ctx.Done():
				}
			}
		}(eventType, sub)
	}
	defer func() {
		cancel()
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
		wg.Wait()
	}()

	hello := events.Payload{"client_id": clientID, "project_id": projectID}
	if e, err := a.engines.Get(projectID); err == nil {
		hello["status"] = e.Status()
	}
	if err := writeStreamEvent(ctx, conn, streamEvent{Type: "hello", Payload: hello}); err != nil {
		logger.Debug().Err(err).Msg("websocket hello failed")
		return
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			logger.Debug().Msg("event stream closed")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case ev := <-out:
			if err := writeStreamEvent(ctx, conn, ev); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *ws.Conn, ev streamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, ws.MessageText, data)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}
