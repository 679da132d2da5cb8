package message

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-pg/pg"
	"github.com/pkg/errors"

	"github.com/octavobooks/messaging/config"
	"github.com/octavobooks/messaging/inbox"
	"github.com/octavobooks/messaging/outbox"
	"github.com/octavobooks/messaging/pkg"
	"github.com/octavobooks/messaging/scram"
)

// Message wires the whole pipeline: the outbox writer for producers, the
// publisher loop, and the idempotent consumer. Construction is the only
// place a failure is fatal; after Open everything retries in place.
type Message struct {
	Writer    *outbox.Writer
	Publisher *outbox.Publisher
	Consumer  *inbox.Consumer

	db       *pg.DB
	producer sarama.SyncProducer
	cfg      *config.Config
}

func Open(cfg *config.Config) (*Message, error) {
	m := &Message{cfg: cfg}

	if err := m.initDB(); err != nil {
		return nil, err
	}
	if err := m.initKafka(); err != nil {
		_ = m.db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Message) initDB() error {
	db, err := pkg.ConnectDB(m.cfg)
	if err != nil {
		return err
	}
	if err := pkg.CreateSchema(db); err != nil {
		_ = db.Close()
		return err
	}
	m.db = db
	return nil
}

func (m *Message) initKafka() error {
	srmConfig := sarama.NewConfig()
	if m.cfg.Sasl {
		srmConfig.Net.SASL.Enable = true
		srmConfig.Net.SASL.User = m.cfg.KfkUsername
		srmConfig.Net.SASL.Password = m.cfg.KfkPassword
		srmConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		srmConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scram.XDGSCRAMClient{HashGeneratorFcn: scram.SHA512}
		}
		srmConfig.Net.SASL.Handshake = true
		srmConfig.Net.TLS.Enable = true
	}
	srmConfig.Producer.Return.Successes = true
	srmConfig.Producer.Return.Errors = true
	srmConfig.Consumer.Return.Errors = true
	srmConfig.Net.DialTimeout = 10 * time.Second
	// Offsets are committed only after the dedup record is durable; see
	// inbox.Consumer.
	srmConfig.Consumer.Offsets.AutoCommit.Enable = false
	srmConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	var producer sarama.SyncProducer
	dial := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(m.cfg.Brokers, srmConfig)
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(dial, bo); err != nil {
		return errors.Wrap(err, "connecting kafka producer")
	}
	m.producer = producer

	group, err := sarama.NewConsumerGroup(m.cfg.Brokers, m.cfg.GroupID, srmConfig)
	if err != nil {
		_ = producer.Close()
		return errors.Wrap(err, "connecting kafka consumer group")
	}

	m.Writer = outbox.NewWriter(m.db)
	m.Publisher = outbox.NewPub(outbox.NewStore(m.db),
		outbox.WithProducer(producer),
		outbox.WithTopic(m.cfg.Topic),
		outbox.WithInterval(m.cfg.PollInterval),
		outbox.WithBatchSize(m.cfg.BatchSize),
		outbox.WithWorkerCount(m.cfg.WorkerCount),
		outbox.WithRetention(m.cfg.Retention),
	)
	m.Consumer = inbox.NewSub(inbox.NewStore(m.db),
		inbox.WithConsumer(group),
		inbox.WithTopics(m.cfg.Topics),
	)
	return nil
}

// Start runs the publisher loop and blocks consuming until ctx is cancelled
// or a termination signal arrives.
func (m *Message) Start(ctx context.Context, handler inbox.MessageHandler) error {
	m.Publisher.Start(ctx)
	return m.Consumer.Start(ctx, handler)
}

func (m *Message) Close() error {
	m.Publisher.Stop()
	if err := m.producer.Close(); err != nil {
		return err
	}
	return m.db.Close()
}
