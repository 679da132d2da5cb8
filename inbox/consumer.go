package inbox

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/octavobooks/messaging/common"
)

type Opts func(*Consumer)

func WithConsumer(group sarama.ConsumerGroup) Opts {
	return func(c *Consumer) {
		c.group = group
	}
}

func WithTopics(topics []string) Opts {
	return func(c *Consumer) {
		c.topics = topics
	}
}

// Consumer is the Kafka side of the subscriber: it feeds every inbound
// message through the idempotent Subscriber and marks the offset only after
// the message was acknowledged. Unacknowledged messages are redelivered when
// the group rebalances or restarts.
type Consumer struct {
	subscriber *Subscriber
	store      DedupStore
	group      sarama.ConsumerGroup
	topics     []string

	wg           sync.WaitGroup
	shutdownChan chan struct{}
	ready        chan bool
	readyOnce    sync.Once
	stopOnce     sync.Once
}

func NewSub(store DedupStore, opt ...Opts) *Consumer {
	c := &Consumer{
		store:        store,
		shutdownChan: make(chan struct{}),
		ready:        make(chan bool),
	}
	for _, o := range opt {
		o(c)
	}
	return c
}

// Start consumes until the context is cancelled or a termination signal
// arrives, then shuts down gracefully.
func (c *Consumer) Start(ctx context.Context, handler MessageHandler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.subscriber = NewSubscriber(c.store, handler)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Transport faults surface on the group's error channel; they are
	// operational noise, never fatal. The channel closes with the group.
	go func() {
		for err := range c.group.Errors() {
			logrus.WithError(err).Error("consumer transport error")
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				logrus.WithError(err).Error("consumer group error")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		logrus.Info("context done, stopping subscriber")
	case <-sigChan:
		logrus.Info("signal received, stopping subscriber")
	}

	return c.Shutdown(ctx)
}

func (c *Consumer) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.shutdownChan)
	})

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("subscriber shutdown completed")
	case <-shutdownCtx.Done():
		logrus.Warn("subscriber shutdown forced after timeout")
	}

	if err := c.group.Close(); err != nil {
		logrus.WithError(err).Error("closing consumer group")
		return err
	}
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	c.readyOnce.Do(func() {
		close(c.ready)
	})
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes one partition claim. Claims run concurrently, which
// is the bus delivering in parallel for distinct message ids.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			msg := envelope(session, message)
			if err := c.subscriber.Process(session.Context(), msg); err != nil {
				// Offset not marked; the record comes back on rebalance
				// or restart.
				continue
			}
		case <-session.Context().Done():
			return nil
		case <-c.shutdownChan:
			return nil
		}
	}
}

// envelope converts a Kafka record into the bus envelope. Kafka assigns no
// broker-side message id, so the delivery position stands in for it; it is
// stable across redeliveries of the same record.
func envelope(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage) common.Message {
	msg := common.Message{
		ID:      fmt.Sprintf("%s/%d/%d", message.Topic, message.Partition, message.Offset),
		Topic:   message.Topic,
		Key:     string(message.Key),
		Payload: message.Value,
		AckFunc: func() {
			session.MarkMessage(message, "")
			// Auto-commit is disabled; flush the mark immediately so the
			// acknowledgement survives a rebalance or restart.
			session.Commit()
		},
	}
	for _, h := range message.Headers {
		switch string(h.Key) {
		case common.HeaderEventType:
			msg.EventType = string(h.Value)
		case common.HeaderOutboxID:
			msg.OutboxID = string(h.Value)
		case common.HeaderCorrelationID:
			msg.CorrelationID = string(h.Value)
		}
	}
	return msg
}
