package notify

import (
	"context"
	"errors"
	"log"
)

// LogChannel writes deliveries to a logger. It is the default channel when
// no gateway webhook is configured.
type LogChannel struct {
	logger *log.Logger
}

// NewLogChannel constructs a log-backed channel.
func NewLogChannel(logger *log.Logger) *LogChannel {
	if logger == nil {
		logger = log.Default()
	}
	return &LogChannel{logger: logger}
}

// SendMail logs a mail delivery.
func (c *LogChannel) SendMail(_ context.Context, to, subject, body string) error {
	if c == nil || c.logger == nil {
		return errors.New("log channel: nil logger")
	}
	c.logger.Printf("mail to=%s subject=%q\n%s", to, subject, body)
	return nil
}

// SendSMS logs an SMS delivery.
func (c *LogChannel) SendSMS(_ context.Context, to, body string) error {
	if c == nil || c.logger == nil {
		return errors.New("log channel: nil logger")
	}
	c.logger.Printf("sms to=%s body=%q", to, body)
	return nil
}
