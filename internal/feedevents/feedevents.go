// Package feedevents publishes feed lifecycle events to Kafka.
package feedevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/stravafeeds/internal/feeds"
)

type Publisher struct {
	topic  string
	events chan feeds.Event
	prod   sarama.AsyncProducer
	logger *slog.Logger

	dropped   atomic.Uint64
	closeOnce sync.Once
	closed    atomic.Bool
	mu        sync.RWMutex
	stopped   chan struct{}
	errsDone  chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("feedevents: no brokers")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "stravafeeds"
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("feedevents: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, logger), nil
}

// NewWithProducer starts a publisher on an existing producer. The publisher
// owns prod and closes it on Close.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Publisher{
		topic:    topic,
		events:   make(chan feeds.Event, queueSize),
		prod:     prod,
		logger:   logger.With("module", "feedevents"),
		stopped:  make(chan struct{}),
		errsDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Warn("marshal event", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Handle),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errsDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("producer error", "err", err.Err)
			}
		}
	}()

	return p
}

// Publish enqueues ev. It never blocks: events are dropped when the queue is
// full or the publisher is closed.
func (p *Publisher) Publish(ev feeds.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		p.dropped.Add(1)
		return
	}
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Close drains the queue and closes the producer.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed.Store(true)
		close(p.events)
		p.mu.Unlock()
		<-p.stopped

		if cerr := p.prod.Close(); cerr != nil {
			err = fmt.Errorf("feedevents: close producer: %w", cerr)
		}
		<-p.errsDone
	})
	return err
}

var _ feeds.Sink = (*Publisher)(nil)
