// Package publish emits completed-rep events to Kafka for downstream
// consumers. Publishing never blocks the frame path.
package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/claude/formcheck/internal/engine"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// DefaultQueueSize is used when no queue size is configured.
const DefaultQueueSize = 256

// RepEvent describes one counted rep.
type RepEvent struct {
	SessionID uuid.UUID        `json:"session_id"`
	SetID     uuid.UUID        `json:"set_id"`
	UserID    int              `json:"user_id"`
	Exercise  engine.Exercise  `json:"exercise"`
	Rep       engine.RepRecord `json:"rep"`
	Streak    int              `json:"streak"`
}

// Publisher accepts rep events.
type Publisher interface {
	Publish(ev RepEvent)
	Close() error
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures a Kafka publisher.
type Config struct {
	Brokers   []string
	Topic     string
	QueueSize int
}

// Kafka publishes events from a bounded queue on a background goroutine.
type Kafka struct {
	w     messageWriter
	log   *slog.Logger
	queue chan RepEvent
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New returns a publisher writing to cfg.Topic.
func New(cfg Config, log *slog.Logger) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafka(w, cfg.QueueSize, log)
}

func newKafka(w messageWriter, queueSize int, log *slog.Logger) *Kafka {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	k := &Kafka{
		w:     w,
		log:   log.With("component", "publisher"),
		queue: make(chan RepEvent, queueSize),
		done:  make(chan struct{}),
	}
	go k.run()
	return k
}

// Publish queues ev. When the queue is full the event is dropped.
func (k *Kafka) Publish(ev RepEvent) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return
	}
	select {
	case k.queue <- ev:
	default:
		k.log.Warn("publish queue full, dropping rep event",
			"session_id", ev.SessionID, "exercise", ev.Exercise, "rep", ev.Rep.Number)
	}
}

func (k *Kafka) run() {
	defer close(k.done)
	for ev := range k.queue {
		value, err := json.Marshal(ev)
		if err != nil {
			k.log.Error("encoding rep event", "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = k.w.WriteMessages(ctx, kafka.Message{
			Key:   []byte(ev.SessionID.String()),
			Value: value,
			Time:  ev.Rep.Timestamp,
		})
		cancel()
		if err != nil {
			k.log.Error("writing rep event", "session_id", ev.SessionID, "error", err)
		}
	}
}

// Close drains queued events and closes the writer.
func (k *Kafka) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	close(k.queue)
	k.mu.Unlock()

	<-k.done
	return k.w.Close()
}

// Nop discards every event. It stands in when Kafka is disabled.
type Nop struct{}

func (Nop) Publish(RepEvent) {}

func (Nop) Close() error { return nil }
