package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
	skafka "github.com/radieske/wager-integrity-core/internal/shared/kafka"
	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

// KafkaPublisher publica as odds de um único provedor no tópico odds_updates.
// Source é sempre o provedor desta instância: o monitor de feed depende disso.
type KafkaPublisher struct {
	writer   skafka.MessageWriter
	provider string
	clock    *clock.Authority
	log      *zap.Logger

	mu       sync.Mutex
	versions map[string]int
}

func NewKafkaPublisher(w skafka.MessageWriter, provider string, clk *clock.Authority, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, provider: provider, clock: clk, log: log, versions: make(map[string]int)}
}

// EnsureTopic cria o tópico em ambientes local/dev via controller do cluster
func EnsureTopic(ctx context.Context, brokers []string, topic string, log *zap.Logger) error {
	if len(brokers) == 0 {
		return fmt.Errorf("kafka brokers not provided")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("connect to kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("get kafka controller: %w", err)
	}
	cconn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer cconn.Close()

	// single-broker: 1 partição, replicação 1
	err = cconn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if err == nil {
		log.Info("kafka topic created", zap.String("topic", topic))
	}
	return nil
}

// Publish carimba origem, horário e versão por evento e envia com key = EventID
func (p *KafkaPublisher) Publish(ctx context.Context, e events.OddsUpdate) error {
	e.Source = p.provider
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = p.clock.AuditTimestamp()
	}
	p.mu.Lock()
	if e.Version <= p.versions[e.EventID] {
		e.Version = p.versions[e.EventID] + 1
	}
	p.versions[e.EventID] = e.Version
	p.mu.Unlock()

	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := skafka.WriteJSON(ctx, p.writer, e.EventID, value); err != nil {
		publishFailures.WithLabelValues(p.provider).Inc()
		p.log.Error("failed to publish odds update", zap.String("event_id", e.EventID), zap.Error(err))
		return err
	}
	published.WithLabelValues(p.provider).Inc()
	p.log.Debug("published odds update", zap.String("event_id", e.EventID), zap.Int("version", e.Version))
	return nil
}
