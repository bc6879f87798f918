// notifier.go: asynchronous publisher of confirmed plays.
package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/observability/metrics"
)

// notifyQueueSize bounds the publish backlog. When the broker is slow the
// oldest queued play is dropped, never the worker.
const notifyQueueSize = 64

// PlayEvent is the JSON payload published for each inserted play.
type PlayEvent struct {
	MessageID    string    `json:"message_id"`
	Stream       string    `json:"stream"`
	Provider     string    `json:"provider"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Album        string    `json:"album,omitempty"`
	ISRC         string    `json:"isrc,omitempty"`
	ArtworkURL   string    `json:"artwork_url,omitempty"`
	Confidence   float64   `json:"confidence"`
	RecognizedAt time.Time `json:"recognized_at"`
}

// Notifier drains a bounded queue of play events into the broker. Publish
// failures are logged and counted; they never propagate to the caller.
type Notifier struct {
	client  Client
	topic   string
	queue   chan PlayEvent
	metrics *metrics.MQTTMetrics

	mu      sync.Mutex
	done    chan struct{}
	stopped bool
}

// NewNotifier builds a notifier over a connected (or connecting) client.
func NewNotifier(settings *conf.Settings, client Client, m *metrics.MQTTMetrics) *Notifier {
	return &Notifier{
		client:  client,
		topic:   settings.Output.MQTT.Topic,
		queue:   make(chan PlayEvent, notifyQueueSize),
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Start launches the publish loop. It returns immediately.
func (n *Notifier) Start(ctx context.Context) {
	go n.run(ctx)
}

// Notify enqueues a play event without blocking. When the queue is full the
// oldest event is discarded to make room.
func (n *Notifier) Notify(event PlayEvent) {
	if event.MessageID == "" {
		event.MessageID = uuid.NewString()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}
	for {
		select {
		case n.queue <- event:
			return
		default:
		}
		select {
		case dropped := <-n.queue:
			mqttLogger.Warn("notify queue full, dropping oldest play event",
				"message_id", dropped.MessageID, "stream", dropped.Stream)
			if n.metrics != nil {
				n.metrics.IncrementMessagesDropped()
			}
		default:
		}
	}
}

// Close stops the publish loop after draining queued events and disconnects
// the client.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	close(n.queue)
	n.mu.Unlock()

	<-n.done
	n.client.Disconnect()
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-n.queue:
			if !ok {
				return
			}
			n.publish(ctx, event)
		}
	}
}

func (n *Notifier) publish(ctx context.Context, event PlayEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		mqttLogger.Error("failed to encode play event", "error", err)
		if n.metrics != nil {
			n.metrics.IncrementErrors("encode")
		}
		return
	}
	if err := n.client.Publish(ctx, n.topic, string(payload)); err != nil {
		mqttLogger.Warn("failed to publish play event",
			"message_id", event.MessageID, "stream", event.Stream, "error", err)
		if n.metrics != nil {
			n.metrics.IncrementErrors("publish")
		}
	}
}
