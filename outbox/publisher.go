package outbox

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/octavobooks/messaging/common"
	"github.com/octavobooks/messaging/model"
)

type Opts func(*Publisher)

func WithProducer(producer sarama.SyncProducer) Opts {
	return func(p *Publisher) {
		p.producer = producer
	}
}

func WithTopic(topic string) Opts {
	return func(p *Publisher) {
		p.topic = topic
	}
}

func WithInterval(interval time.Duration) Opts {
	return func(p *Publisher) {
		p.interval = interval
	}
}

func WithBatchSize(batchSize int) Opts {
	return func(p *Publisher) {
		p.batchSize = batchSize
	}
}

func WithWorkerCount(workerCount int) Opts {
	return func(p *Publisher) {
		p.workerCount = workerCount
	}
}

// WithRetention enables pruning of SENT rows older than the window, run
// opportunistically once per cycle.
func WithRetention(retention time.Duration) Opts {
	return func(p *Publisher) {
		p.retention = retention
	}
}

// Publisher drains the outbox to Kafka on a fixed interval. Delivery is
// at-least-once: a crash after publish but before the claim transaction
// commits leaves the row PENDING and it is published again next cycle.
type Publisher struct {
	store       Store
	producer    sarama.SyncProducer
	topic       string
	interval    time.Duration
	batchSize   int
	workerCount int
	retention   time.Duration

	breaker      *gobreaker.CircuitBreaker
	shutdownChan chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func NewPub(store Store, opt ...Opts) *Publisher {
	p := &Publisher{
		store: store,
		topic: "domain-events",
	}
	for _, o := range opt {
		o(p)
	}

	if p.interval == 0 {
		p.interval = 5 * time.Second
	}
	if p.batchSize == 0 {
		p.batchSize = 100
	}
	if p.workerCount == 0 {
		p.workerCount = 1
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "outbox-publish",
	})
	p.shutdownChan = make(chan struct{})
	return p
}

// Start launches the worker loops. Each worker runs its cycles inline, so a
// slow cycle delays the next tick instead of overlapping it.
func (p *Publisher) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Stop halts scheduling and waits for in-flight cycles. An aborted cycle
// rolls back its claim, leaving rows PENDING and safe to resume.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.shutdownChan)
	})
	p.wg.Wait()
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}

func (p *Publisher) worker(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdownChan:
			return
		case <-ticker.C:
			p.RunCycle(ctx)
		}
	}
}

// RunCycle drains one batch immediately. The worker loop calls it on every
// tick; callers may use it to flush without waiting for the next tick.
// Store failures are fatal to the cycle only.
func (p *Publisher) RunCycle(ctx context.Context) {
	sent, err := p.store.Drain(ctx, p.batchSize, p.publishEvent)
	if err != nil {
		logrus.WithError(err).Error("outbox drain failed")
		return
	}
	if sent > 0 {
		logrus.WithField("count", sent).Info("outbox events published")
	}

	if p.retention > 0 {
		if _, err := p.store.PruneSent(ctx, p.retention); err != nil {
			logrus.WithError(err).Warn("outbox prune failed")
		}
	}
}

func (p *Publisher) publishEvent(ev model.OutboxEvent) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		msg := &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ev.EventType),
			Value: sarama.ByteEncoder([]byte(ev.Payload)),
			Headers: []sarama.RecordHeader{
				{Key: []byte(common.HeaderEventType), Value: []byte(ev.EventType)},
				{Key: []byte(common.HeaderOutboxID), Value: []byte(strconv.FormatInt(ev.ID, 10))},
				{Key: []byte(common.HeaderCorrelationID), Value: []byte(uuid.NewString())},
			},
		}
		_, _, err := p.producer.SendMessage(msg)
		return nil, err
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"outbox_id":  ev.ID,
			"event_type": ev.EventType,
			"attempts":   ev.Attempts + 1,
		}).WithError(err).Error("publish failed, event stays pending")
		return err
	}

	logrus.WithFields(logrus.Fields{
		"outbox_id":  ev.ID,
		"event_type": ev.EventType,
	}).Debug("outbox event published")
	return nil
}
