package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
)

// handleEvents upgrades to a WebSocket and streams bus events to the
// client as JSON, one message per event. Event payloads carry ids and
// timestamps only; token material is never published on the bus. Slow
// clients that fall behind the subscription buffer miss events rather
// than blocking publishers.
func (g *Gateway) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.bus == nil {
			writeError(w, http.StatusServiceUnavailable, "event bus not available")
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Error("websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()

		ch, unsubscribe := g.bus.Subscribe(64)
		defer unsubscribe()

		g.logger.Debug("event stream client connected", "remote_addr", r.RemoteAddr)

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			case ev, ok := <-ch:
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "event stream closed")
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					g.logger.Debug("event stream client disconnected", "remote_addr", r.RemoteAddr)
					return
				}
			}
		}
	}
}
