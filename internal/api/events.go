package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/murmur/internal/notify"
)

const (
	// eventBuffer is the per-client queue. A client that falls further
	// behind loses events instead of stalling the bus.
	eventBuffer = 256

	eventWriteTimeout = 5 * time.Second
)

// handleEvents streams bus events to a websocket client as JSON. An
// optional ?kinds=level,transcript query narrows the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Debug("api: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer c.CloseNow()

	var kinds []notify.Kind
	if q := r.URL.Query().Get("kinds"); q != "" {
		for k := range strings.SplitSeq(q, ",") {
			kinds = append(kinds, notify.Kind(strings.TrimSpace(k)))
		}
	}
	events, unsubscribe := s.deps.Bus.Subscribe(eventBuffer, kinds...)
	defer unsubscribe()

	// Clients only listen; CloseRead handles their close frame and pings.
	ctx := c.CloseRead(r.Context())
	slog.Debug("api: event stream opened", "remote", r.RemoteAddr, "kinds", kinds)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				c.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := writeEvent(ctx, c, e); err != nil {
				if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
					slog.Debug("api: event stream write failed", "remote", r.RemoteAddr, "err", err)
				}
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, c *websocket.Conn, e notify.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, e)
}
