package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"skycrash/internal/game"
)

// Publisher streams settlement and round-close records to Kafka for
// downstream audit consumers. It implements game.AuditSink.
type Publisher struct {
	settlements *kafka.Writer
	rounds      *kafka.Writer
	log         *zap.Logger
}

func newWriter(brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

// New returns a Publisher, or nil when no brokers are configured. Callers
// treat a nil Publisher as "audit stream disabled".
func New(brokers, settlementTopic, roundTopic string, log *zap.Logger) *Publisher {
	if brokers == "" {
		return nil
	}
	return &Publisher{
		settlements: newWriter(brokers, settlementTopic),
		rounds:      newWriter(brokers, roundTopic),
		log:         log,
	}
}

func (p *Publisher) BetSettled(ctx context.Context, bet *game.Bet) error {
	payload, err := json.Marshal(bet)
	if err != nil {
		return err
	}
	return p.settlements.WriteMessages(ctx, kafka.Message{
		Key:   []byte(bet.BetID),
		Value: payload,
		Time:  time.Now(),
	})
}

func (p *Publisher) RoundClosed(ctx context.Context, rec game.RoundRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.rounds.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.RoundID),
		Value: payload,
		Time:  time.Now(),
	})
}

func (p *Publisher) Close() error {
	if err := p.settlements.Close(); err != nil {
		p.log.Warn("close settlement writer", zap.Error(err))
	}
	return p.rounds.Close()
}
