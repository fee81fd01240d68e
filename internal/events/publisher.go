package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kapu/chess-arena-server/internal/obslog"
)

// Publisher writes result events to Kafka. A nil Publisher is a no-op so the
// server runs without a broker configured. Publishing is best-effort: a write
// failure is logged and never blocks a settlement.
type Publisher struct {
	games  *kafka.Writer
	wagers *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	return &Publisher{
		games:  newWriter(brokers, TopicGameFinished),
		wagers: newWriter(brokers, TopicWagerSettled),
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	_ = p.games.Close()
	return p.wagers.Close()
}

func (p *Publisher) GameFinished(ctx context.Context, ev GameFinished) {
	if p == nil {
		return
	}
	ev.Ts = time.Now()
	p.write(ctx, p.games, ev.SessionID, ev)
}

func (p *Publisher) WagerSettled(ctx context.Context, ev WagerSettled) {
	if p == nil {
		return
	}
	ev.Ts = time.Now()
	p.write(ctx, p.wagers, ev.ChallengeID, ev)
}

func (p *Publisher) write(ctx context.Context, w *kafka.Writer, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: raw, Time: time.Now()}); err != nil {
		obslog.L().Warn("event_publish_error", zap.String("topic", w.Topic), zap.Error(err))
	}
}
