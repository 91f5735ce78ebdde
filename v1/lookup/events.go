package lookup

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/mirkobrombin/warp-aqi/v1/cache"
	"github.com/mirkobrombin/warp-aqi/v1/upstream"
	"github.com/mirkobrombin/warp-aqi/v1/watchbus"
)

// Topic is the watch bus topic cache events are published on.
const Topic = "cache"

// Event types.
const (
	EventStored  = "stored"
	EventEvicted = "evicted"
	EventExpired = "expired"
	EventCleared = "cleared"
)

// Event is the JSON payload streamed to watchers.
type Event struct {
	Type string    `json:"type"`
	Key  string    `json:"key"`
	AQI  *int      `json:"aqi,omitempty"`
	At   time.Time `json:"at"`
}

// Events publishes cache lifecycle events on a watch bus.
type Events struct {
	bus    watchbus.WatchBus
	logger zerolog.Logger
	now    func() time.Time
}

// NewEvents returns a publisher writing to bus.
func NewEvents(bus watchbus.WatchBus, logger zerolog.Logger) *Events {
	return &Events{bus: bus, logger: logger, now: time.Now}
}

// Stored announces a freshly cached report.
func (e *Events) Stored(key string, r *upstream.Report) {
	ev := Event{Type: EventStored, Key: key}
	if r != nil {
		aqi := r.AQI
		ev.AQI = &aqi
	}
	e.publish(ev)
}

// OnEvict is meant to be passed to cache.WithOnEvict.
func (e *Events) OnEvict(key string, _ *upstream.Report, reason cache.EvictReason) {
	var typ string
	switch reason {
	case cache.EvictCapacity:
		typ = EventEvicted
	case cache.EvictExpired:
		typ = EventExpired
	case cache.EvictCleared:
		typ = EventCleared
	default:
		return
	}
	e.publish(Event{Type: typ, Key: key})
}

func (e *Events) publish(ev Event) {
	ev.At = e.now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error().Err(err).Msg("encode cache event")
		return
	}
	if err := e.bus.Publish(context.Background(), Topic, data); err != nil {
		e.logger.Warn().Err(err).Str("type", ev.Type).Msg("publish cache event")
	}
}
