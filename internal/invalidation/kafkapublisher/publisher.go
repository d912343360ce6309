// Package kafkapublisher emits dataset invalidation events for the consumer
// in kafkaconsumer.
package kafkapublisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/wfs-query/internal/core/observability"
	"github.com/mohammed-shakir/wfs-query/internal/invalidation"
)

var ErrPublishFailed = errors.New("invalidation publish failed")

type Publisher struct {
	topic  string
	prod   sarama.AsyncProducer
	logger *slog.Logger

	failed  atomic.Int64
	drained sync.WaitGroup
	once    sync.Once
}

// Dial connects an async producer to brokers.
func Dial(brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	// one source always lands on one partition so consumers see its events in order
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafkapublisher: create async producer: %w", err)
	}
	return New(prod, topic, logger), nil
}

// New wraps an existing producer. The producer must return errors.
func New(prod sarama.AsyncProducer, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if topic == "" {
		topic = "dataset-invalidation"
	}
	p := &Publisher{topic: topic, prod: prod, logger: logger}

	p.drained.Add(1)
	go func() {
		defer p.drained.Done()
		for perr := range p.prod.Errors() {
			if perr == nil {
				continue
			}
			p.failed.Add(1)
			op, _ := perr.Msg.Metadata.(string)
			obs.IncInvalidation(op, "publish_failed")
			p.logger.Error("invalidation publish failed", "topic", p.topic, "err", perr.Err)
		}
	}()
	return p
}

// Publish validates ev and queues it, keyed by its source.
func (p *Publisher) Publish(ctx context.Context, ev invalidation.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("kafkapublisher: %w", err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafkapublisher: marshal: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic:    p.topic,
		Key:      sarama.StringEncoder(ev.Source),
		Value:    sarama.ByteEncoder(b),
		Metadata: ev.Op,
	}
	select {
	case p.prod.Input() <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	obs.IncInvalidation(ev.Op, "published")
	p.logger.DebugContext(ctx, "invalidation queued", "source", ev.Source, "op", ev.Op, "targets", len(ev.Targets()))
	return nil
}

// Close flushes queued events and reports whether any of them failed.
func (p *Publisher) Close() error {
	p.once.Do(p.prod.AsyncClose)
	p.drained.Wait()
	if n := p.failed.Load(); n > 0 {
		return fmt.Errorf("%w: %d event(s)", ErrPublishFailed, n)
	}
	return nil
}
