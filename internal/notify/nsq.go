package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"payments_core/internal/logger"

	"github.com/nsqio/go-nsq"
)

const nsqTopic = "payments_events"

// NSQPublisher queues events on topic payments_events for downstream consumers.
type NSQPublisher struct {
	producer *nsq.Producer
}

func NewNSQPublisher(addr string) (*NSQPublisher, error) {
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create NSQ producer: %w", err)
	}
	producer.SetLogger(slog.NewLogLogger(logger.Get().Handler(), slog.LevelWarn), nsq.LogLevelWarning)
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("failed to ping NSQ daemon: %w", err)
	}
	return &NSQPublisher{producer: producer}, nil
}

func (p *NSQPublisher) Publish(_ context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.producer.PublishAsync(nsqTopic, body, nil)
}

func (p *NSQPublisher) Stop() {
	p.producer.Stop()
}
