// Package kafkaconsumer refreshes feeds when Strava webhook events arrive on
// a Kafka topic.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/stravafeeds/internal/core/observability"
	"github.com/mohammed-shakir/stravafeeds/internal/feeds"
	"github.com/mohammed-shakir/stravafeeds/internal/invalidation"
	mylog "github.com/mohammed-shakir/stravafeeds/internal/logger"
)

// ErrPoison marks a message that can never be processed.
var ErrPoison = errors.New("unprocessable message")

// Feeds is the part of the registry the consumer drives.
type Feeds interface {
	Feeds() []feeds.Snapshot
	Refresh(ctx context.Context, handles ...feeds.Handle) error
	Destroy(ctx context.Context, handles ...feeds.Handle) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	feeds  Feeds
}

func New(cfg Config, logger *slog.Logger, f Feeds) *Consumer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Consumer{cfg: cfg.withDefaults(), logger: logger, feeds: f}
}

// consumes webhook events from kafka until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	if c.feeds == nil {
		return errors.New("kafkaconsumer: missing feeds")
	}
	if len(c.cfg.Brokers) == 0 {
		return errors.New("kafkaconsumer: no brokers")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.ClientID = "stravafeeds"
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

	ctx = mylog.WithLayer(ctx, "kafka_consumer")
	handler := &groupHandler{process: c.ProcessOne}
	c.logger.InfoContext(ctx, "webhook consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			obs.IncKafkaConsumerError("consume")
			c.logger.ErrorContext(ctx, "kafka consumer error", "err", err, "topic", c.cfg.Topic)
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.RetryBackoff):
			}
		}
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "webhook consumer shutting down")
			return nil
		}
	}
}

// ProcessOne applies a single webhook event. Bad payloads return ErrPoison.
// Refresh failures are logged only: the feeds keep their previous fragment.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaConsumerError("decode")
		c.logger.WarnContext(ctx, "kafka decode error",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("%w: json decode: %v", ErrPoison, err)
	}
	if err := ev.Validate(); err != nil {
		obs.IncKafkaConsumerError("invalid")
		c.logger.WarnContext(ctx, "invalid webhook event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("%w: %v", ErrPoison, err)
	}

	handles := Affected(ev, c.feeds.Feeds())
	if len(handles) == 0 {
		obs.ObserveInvalidation(ev.AspectType, 0, time.Since(start), nil)
		c.logger.DebugContext(ctx, "no feeds affected", "object", ev.ObjectType, "aspect", ev.AspectType, "owner", ev.OwnerID)
		return nil
	}

	var err error
	action := "refresh"
	if ev.Deauthorized() {
		action = "destroy"
		err = c.feeds.Destroy(ctx, handles...)
	} else {
		err = c.feeds.Refresh(ctx, handles...)
	}
	obs.ObserveInvalidation(ev.AspectType, len(handles), time.Since(start), err)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.WarnContext(ctx, "webhook "+action+" failed",
			"owner", ev.OwnerID, "feeds", len(handles), "err", err)
		return nil
	}
	c.logger.InfoContext(ctx, "webhook applied",
		"action", action,
		"object", ev.ObjectType,
		"aspect", ev.AspectType,
		"owner", ev.OwnerID,
		"feeds", len(handles))
	return nil
}

// Affected selects the feeds an event touches: every feed of the owning
// athlete, and for activity events any feed showing that activity.
func Affected(ev invalidation.Event, list []feeds.Snapshot) []feeds.Handle {
	if ev.ObjectType == invalidation.ObjectAthlete && !ev.Deauthorized() {
		return nil
	}
	var out []feeds.Handle
	for _, s := range list {
		switch {
		case s.AthleteID != 0 && s.AthleteID == ev.OwnerID:
			out = append(out, s.Handle)
		case ev.ObjectType == invalidation.ObjectActivity && s.ActivityID == ev.ObjectID:
			out = append(out, s.Handle)
		}
	}
	return out
}
