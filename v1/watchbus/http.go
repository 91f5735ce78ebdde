package watchbus

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// HandlerOption configures the streaming handlers.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	watchers prometheus.Gauge
	upgrader websocket.Upgrader
}

// WithWatcherGauge tracks the number of connected stream clients.
func WithWatcherGauge(g prometheus.Gauge) HandlerOption {
	return func(c *handlerConfig) { c.watchers = g }
}

// WithCheckOrigin overrides the WebSocket origin check. By default the
// gorilla/websocket same-origin policy applies.
func WithCheckOrigin(fn func(r *http.Request) bool) HandlerOption {
	return func(c *handlerConfig) { c.upgrader.CheckOrigin = fn }
}

func newHandlerConfig(opts []HandlerOption) *handlerConfig {
	cfg := &handlerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *handlerConfig) track(delta float64) {
	if c.watchers != nil {
		c.watchers.Add(delta)
	}
}

// SSEHandler streams the events published on topic over Server-Sent Events.
func SSEHandler(bus WatchBus, topic string, opts ...HandlerOption) http.HandlerFunc {
	cfg := newHandlerConfig(opts)
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "stream unsupported", http.StatusInternalServerError)
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		ch, err := bus.Watch(ctx, topic)
		if err != nil {
			cancel()
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		cfg.track(1)
		defer func() {
			cancel()
			_ = bus.Unwatch(context.Background(), topic, ch)
			cfg.track(-1)
		}()
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
					return
				}
				flusher.Flush()
			case <-ctx.Done():
				return
			}
		}
	}
}

// WebSocketHandler streams the events published on topic over WebSocket,
// one text message per event.
func WebSocketHandler(bus WatchBus, topic string, opts ...HandlerOption) http.HandlerFunc {
	cfg := newHandlerConfig(opts)
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := cfg.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ctx, cancel := context.WithCancel(r.Context())
		ch, err := bus.Watch(ctx, topic)
		if err != nil {
			cancel()
			return
		}
		cfg.track(1)
		defer func() {
			cancel()
			_ = bus.Unwatch(context.Background(), topic, ch)
			cfg.track(-1)
		}()
		// The client never sends data; reading detects its disconnect.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}
