package main

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/octavobooks/messaging/config"
	"github.com/octavobooks/messaging/inbox"
	"github.com/octavobooks/messaging/message"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("pipeline stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	m, err := message.Open(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	payload, err := json.Marshal(map[string]interface{}{"authorId": 42})
	if err != nil {
		return err
	}
	if _, err := m.Writer.Save("AUTHOR_CREATED", payload); err != nil {
		return err
	}

	// Blocks until a termination signal; the publisher loop runs alongside.
	return m.Start(context.Background(), inbox.LogHandler())
}
