package inbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/octavobooks/messaging/common"
)

// MessageHandler applies the domain effect of one message. Dispatch must be
// safe to skip entirely for duplicates; it is called at most once per
// message id, barring the race the dedup insert resolves.
type MessageHandler interface {
	Dispatch(ctx context.Context, message common.Message) error
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, message common.Message) error

func (f MessageHandlerFunc) Dispatch(ctx context.Context, message common.Message) error {
	return f(ctx, message)
}

// LogHandler is the default effect: it decodes the payload and logs it.
func LogHandler() MessageHandler {
	return MessageHandlerFunc(func(ctx context.Context, message common.Message) error {
		fields := logrus.Fields{
			"message_id": message.ID,
			"event_type": message.EventType,
		}
		var body map[string]interface{}
		if err := json.Unmarshal(message.Payload, &body); err == nil {
			for k, v := range body {
				fields[k] = v
			}
		}
		logrus.WithFields(fields).Info("event processed")
		return nil
	})
}

// Subscriber applies each message's effect exactly once despite at-least-once
// delivery. Per message: dedup lookup, effect, dedup record, ack. The ack is
// withheld on any failure so the bus redelivers; redelivery is the only
// consumer-side retry mechanism.
type Subscriber struct {
	store   DedupStore
	handler MessageHandler
}

func NewSubscriber(store DedupStore, handler MessageHandler) *Subscriber {
	if handler == nil {
		handler = LogHandler()
	}
	return &Subscriber{store: store, handler: handler}
}

func (s *Subscriber) Process(ctx context.Context, message common.Message) error {
	log := logrus.WithFields(logrus.Fields{
		"message_id": message.ID,
		"event_type": message.EventType,
	})

	seen, err := s.store.Seen(ctx, message.ID)
	if err != nil {
		log.WithError(err).Error("dedup lookup failed, leaving message for redelivery")
		return err
	}
	if seen {
		log.Warn("duplicate delivery, skipping")
		message.Ack()
		return nil
	}

	if err := s.handler.Dispatch(ctx, message); err != nil {
		log.WithError(err).Error("effect failed, leaving message for redelivery")
		return err
	}

	if err := s.store.Record(ctx, message.ID, time.Now()); err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			// Lost the insert race to a concurrent delivery of the same id.
			log.Warn("duplicate delivery detected on record, skipping")
			message.Ack()
			return nil
		}
		log.WithError(err).Error("recording processed message failed, leaving message for redelivery")
		return err
	}

	message.Ack()
	return nil
}
