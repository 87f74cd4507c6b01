// Package relay publishes market events to Kafka in id order.
package relay

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"taskmarket/internal/config"
	"taskmarket/internal/events"
	"taskmarket/internal/metrics"
	"taskmarket/internal/repo"
)

// CursorName is the relay_cursors row the Kafka relay advances.
const CursorName = "kafka"

const defaultBatch = 100

// Publisher is satisfied by *kafka.Writer.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Relay struct {
	Repo      repo.Repo
	Publisher Publisher
	Name      string
	BatchSize int
	Log       zerolog.Logger
	Metrics   *metrics.Metrics
}

// NewWriter builds a synchronous writer for the configured topic.
func NewWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

func New(r repo.Repo, pub Publisher, batch int, log zerolog.Logger, m *metrics.Metrics) *Relay {
	if batch <= 0 {
		batch = defaultBatch
	}
	return &Relay{
		Repo:      r,
		Publisher: pub,
		Name:      CursorName,
		BatchSize: batch,
		Log:       log.With().Str("component", "relay").Logger(),
		Metrics:   m,
	}
}

// Run publishes every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.PublishOnce(ctx); err != nil && ctx.Err() == nil {
			r.Log.Warn().Err(err).Msg("publish failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PublishOnce sends one batch after the stored cursor and returns how many
// events went out. The cursor only moves once the batch is acknowledged.
// A relay that has never run starts from the first event.
func (r *Relay) PublishOnce(ctx context.Context) (int, error) {
	cursor, err := r.Repo.GetRelayCursor(ctx, r.Name)
	if err != nil {
		return 0, err
	}
	if cursor < 0 {
		cursor = 0
	}
	evts, err := r.Repo.EventsAfter(ctx, r.BatchSize, cursor)
	if err != nil || len(evts) == 0 {
		return 0, err
	}
	msgs := make([]kafka.Message, 0, len(evts))
	for _, evt := range evts {
		value, err := events.Encode(evt)
		if err != nil {
			return 0, err
		}
		key := evt.EntityID
		if key == "" {
			key = evt.EntityKind
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(key),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(evt.Type)},
				{Key: "event-id", Value: []byte(strconv.FormatInt(evt.ID, 10))},
			},
		})
	}
	if err := r.Publisher.WriteMessages(ctx, msgs...); err != nil {
		if r.Metrics != nil {
			r.Metrics.RelayFailures.Inc()
		}
		return 0, err
	}
	last := evts[len(evts)-1].ID
	if err := r.Repo.SetRelayCursor(ctx, r.Name, last); err != nil {
		return 0, err
	}
	if r.Metrics != nil {
		r.Metrics.RelayPublished.Add(float64(len(msgs)))
	}
	r.Log.Debug().Int("count", len(msgs)).Int64("cursor", last).Msg("published events")
	return len(msgs), nil
}
