package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/wfs-query/internal/core/observability"
	"github.com/mohammed-shakir/wfs-query/internal/invalidation"
	mylog "github.com/mohammed-shakir/wfs-query/internal/logger"
)

// Invalidator evicts cached sources and reports how many were cached.
type Invalidator interface {
	Invalidate(sources ...string) int
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  Invalidator
	ver    *versionDedupe

	mu       sync.RWMutex
	assigned map[int32]struct{}
	ready    bool
}

func New(cfg Config, logger *slog.Logger, c Invalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Consumer{
		cfg:      cfg,
		logger:   logger,
		cache:    c,
		ver:      newVersionDedupe(cfg.DedupeSize),
		assigned: map[int32]struct{}{},
	}
}

// Run consumes invalidation events until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing cache dependency")
	}
	if len(c.cfg.Brokers) == 0 {
		return errors.New("kafkaconsumer: no brokers configured")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() {
		if err := group.Close(); err != nil {
			c.logger.Error("kafka consumer group close", "err", err)
		}
	}()

	go func() {
		for err := range group.Errors() {
			obs.IncConsumerError("group")
			c.logger.Error("kafka group error", "err", err)
		}
	}()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	h := c.handler()
	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
			obs.IncConsumerError("consume")
			c.logger.ErrorContext(ctx, "kafka consume error", "err", err)
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		}
	}
}

func (c *Consumer) handler() *groupHandler {
	return &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			c.mu.Lock()
			c.ready = true
			c.assigned = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					c.assigned[p] = struct{}{}
				}
			}
			c.mu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			c.mu.Lock()
			c.ready = false
			c.assigned = map[int32]struct{}{}
			c.mu.Unlock()
		},
		process: c.ProcessOne,
	}
}

// Readiness reports whether the consumer holds a group session and which
// partitions it was assigned.
func (c *Consumer) Readiness() (ready bool, partitions []int32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready {
		return false, nil
	}
	for p := range c.assigned {
		partitions = append(partitions, p)
	}
	slices.Sort(partitions)
	return true, partitions
}

// ProcessOne applies a single message. Undecodable or invalid events are
// dropped since redelivery cannot fix them.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.drop(ctx, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.drop(ctx, msg, "validate", err)
		return nil
	}

	evicted, applied := 0, 0
	for _, src := range ev.Targets() {
		if !c.ver.shouldApply(src, ev.TS) {
			obs.IncInvalidation(ev.Op, "stale")
			continue
		}
		applied++
		evicted += c.cache.Invalidate(src)
		obs.IncInvalidation(ev.Op, "applied")
	}

	c.logger.DebugContext(mylog.WithSource(ctx, ev.Source), "invalidation applied",
		"op", ev.Op,
		"targets", applied,
		"evicted", evicted,
		"partition", msg.Partition,
		"offset", msg.Offset)
	return nil
}

func (c *Consumer) drop(ctx context.Context, msg *sarama.ConsumerMessage, stage string, err error) {
	obs.IncConsumerError(stage)
	obs.IncInvalidation("unknown", "dropped")
	c.logger.WarnContext(ctx, "dropping invalidation message",
		"stage", stage,
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"err", err)
}
