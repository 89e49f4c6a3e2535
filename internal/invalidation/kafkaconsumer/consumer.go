package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/wms-lod-stream/internal/cache/keys"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	obs "github.com/mohammed-shakir/wms-lod-stream/internal/core/observability"
	"github.com/mohammed-shakir/wms-lod-stream/internal/invalidation"
	mylog "github.com/mohammed-shakir/wms-lod-stream/internal/logger"
)

// RegionInvalidator purges and refetches tiles, see lod.Runner.
type RegionInvalidator interface {
	InvalidateRegion(ctx context.Context, region model.BBox) (int, error)
}

// CapabilitiesRefresher re-downloads a capabilities document by request key.
type CapabilitiesRefresher interface {
	Refresh(key string) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	zlog   *zerolog.Logger
	tiles  RegionInvalidator
	caps   CapabilitiesRefresher
	dedupe *seqDedupe

	mu         sync.Mutex
	ready      bool
	partitions []int32
}

func New(cfg Config, logger *slog.Logger, zl *zerolog.Logger, tiles RegionInvalidator, caps CapabilitiesRefresher) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		zlog:   zl,
		tiles:  tiles,
		caps:   caps,
		dedupe: newSeqDedupe(cfg.DedupeSize),
	}
}

// consumes invalidation events from kafka until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	if c.tiles == nil {
		return errors.New("kafkaconsumer: missing region invalidator")
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

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne, onSetup: c.setClaims, onCleanup: c.clearClaims}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.logger.Error("consumer error", "err", err)
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// Readiness reports whether the group currently holds partitions.
func (c *Consumer) Readiness() (bool, []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready, append([]int32(nil), c.partitions...)
}

func (c *Consumer) setClaims(claims map[string][]int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partitions = append(c.partitions[:0], claims[c.cfg.Topic]...)
	c.ready = true
}

func (c *Consumer) clearClaims() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partitions = nil
	c.ready = false
}

// process a single invalidation event message
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx = mylog.WithComponent(ctx, "kafka_consumer")

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaConsumerError("decode")
		c.logKafkaError(ctx, "decode", msg, err)
		// a message that never decodes would block the partition forever
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncKafkaConsumerError("invalid")
		c.logKafkaError(ctx, "invalid", msg, err)
		return nil
	}
	if ev.Seq != 0 && !c.dedupe.fresh(ev.DedupeKey(), ev.Seq) {
		c.logger.Debug("stale invalidation skipped", "op", ev.Op, "source", ev.Source, "seq", ev.Seq)
		return nil
	}

	switch ev.Op {
	case invalidation.OpTiles:
		if err := c.invalidateTiles(ctx, msg, ev); err != nil {
			return err
		}
	case invalidation.OpCapabilities:
		c.refreshCapabilities(ev)
	}
	if ev.Seq != 0 {
		c.dedupe.record(ev.DedupeKey(), ev.Seq)
	}
	return nil
}

func (c *Consumer) invalidateTiles(ctx context.Context, msg *sarama.ConsumerMessage, ev invalidation.Event) error {
	region := ev.BBox.Model()
	if c.cfg.SRS != "" && region.SRS != c.cfg.SRS {
		c.logger.Debug("invalidation for another srs skipped", "srs", region.SRS, "want", c.cfg.SRS)
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.ApplyTimeout)
	defer cancel()
	n, err := c.tiles.InvalidateRegion(opCtx, region)
	obs.ObserveInvalidation(ev.Op, err)
	if err != nil {
		obs.IncKafkaConsumerError("invalidate")
		c.logKafkaError(ctx, "invalidate", msg, err)
		return fmt.Errorf("invalidate region %s: %w", region, err)
	}

	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "invalidation").
		Str("op", ev.Op).
		Str("bbox", region.String()).
		Int("refetched", n).
		Msg("tiles invalidated")
	return nil
}

func (c *Consumer) refreshCapabilities(ev invalidation.Event) {
	if c.caps == nil {
		return
	}
	key := keys.Capabilities(ev.Server, ev.WMSVersion)
	err := c.caps.Refresh(key)
	obs.ObserveInvalidation(ev.Op, err)
	if err != nil {
		// nobody asked for this server yet
		c.logger.Debug("capabilities refresh skipped", "key", key, "err", err)
		return
	}
	c.logger.Info("capabilities refreshed", "key", key)
}

func (c *Consumer) logKafkaError(ctx context.Context, kind string, msg *sarama.ConsumerMessage, err error) {
	mylog.FromContext(ctx, c.zlog).Error().
		Err(err).
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("kafka error")
}
