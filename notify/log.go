package notify

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Log writes notifications to the logger instead of delivering them.
type Log struct {
	Logger *log.Logger
}

func (n Log) Send(_ context.Context, address, subject, body string) error {
	logger := n.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithFields(log.Fields{
		"to":      address,
		"subject": subject,
		"body":    body,
	}).Info("notification")
	return nil
}
