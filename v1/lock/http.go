package lock

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// ReleaseEvent is the message streamed to HTTP watchers.
type ReleaseEvent struct {
	Event string `json:"event"`
	Key   string `json:"key"`
}

func releaseEvent(key string) ReleaseEvent {
	return ReleaseEvent{Event: "unlock", Key: key}
}

// ReleaseSSEHandler streams release events over Server-Sent Events.
// The watched lock key is taken from the "key" query parameter.
func ReleaseSSEHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "stream unsupported", http.StatusInternalServerError)
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		ch, err := reg.Subscribe(ctx, key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "event: unlock\ndata: %s\n\n", key); err != nil {
					return
				}
				flusher.Flush()
			case <-ctx.Done():
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{}

// ReleaseWebSocketHandler streams release events as JSON over a WebSocket.
// The watched lock key is taken from the "key" query parameter.
func ReleaseWebSocketHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		ch, err := reg.Subscribe(ctx, key)
		if err != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
			return
		}
		// Detect the client going away.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteJSON(releaseEvent(key)); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}
