// Package mailer delivers account emails (confirmation and password reset
// links).
package mailer

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes the envelope to the log instead of delivering it. The
// body is logged only at debug level since it carries single-use links.
type LogSender struct {
	log logging.Logger
}

func NewLogSender(log logging.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.log.Info(ctx, "email queued", "to", msg.To, "subject", msg.Subject)
	s.log.Debug(ctx, "email body", "to", msg.To, "html", msg.HTML)
	return nil
}

// Outbox keeps sent messages in memory.
type Outbox struct {
	mu   sync.Mutex
	sent []Message
}

func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.sent...)
}

// Last returns the most recent message to addr.
func (o *Outbox) Last(addr string) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].To == addr {
			return o.sent[i], true
		}
	}
	return Message{}, false
}
