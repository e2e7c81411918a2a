// Package notify implements a bounded, worker-pooled email notification
// queue on top of net/smtp, with bounded exponential-backoff retry. Two
// independent subscriber lists (admin, client) are carried so an
// admin-facing event and a client-facing event never cross-notify the
// wrong audience.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"go.uber.org/zap"
)

// Message is one outbound notification.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// SMTPConfig holds the outbound mail transport settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Sender delivers one message, or returns an error for the queue to retry.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends mail via net/smtp with PLAIN auth.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender builds a Sender backed by the given SMTP transport config.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send delivers msg synchronously. net/smtp has no context-aware API, so
// ctx is not consulted and no deadline is applied to the send.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	body := fmt.Sprintf("Subject: %s\r\n\r\n%s", msg.Subject, msg.Body)
	return smtp.SendMail(s.cfg.addr(), auth, s.cfg.From, msg.To, []byte(body))
}

// Subscribers holds the two independent audience lists a queue fans
// messages out to.
type Subscribers struct {
	Admin  []string
	Client []string
}

const (
	maxRetries   = 3
	baseBackoff  = 2 * time.Second
	defaultDelay = 0
)

// queuedMessage pairs a Message with its retry state.
type queuedMessage struct {
	msg     Message
	attempt int
}

// Queue is a bounded, worker-pooled notification queue.
type Queue struct {
	sender  Sender
	logger  *zap.SugaredLogger
	ch      chan queuedMessage
	delay   time.Duration
	done    chan struct{}
	workers int
}

// NewQueue builds a Queue with the given worker count (clamped 1-4 per
// spec), bounded channel capacity, and per-message send delay (used to
// throttle outbound mail volume, e.g. in bulk-audit-digest scenarios).
func NewQueue(sender Sender, logger *zap.SugaredLogger, workers, capacity int, delay time.Duration) *Queue {
	if workers < 1 {
		workers = 1
	}
	if workers > 4 {
		workers = 4
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		sender:  sender,
		logger:  logger,
		ch:      make(chan queuedMessage, capacity),
		delay:   delay,
		done:    make(chan struct{}),
		workers: workers,
	}
}

// Start launches the worker pool; it returns once all workers have exited
// after ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	done := make(chan struct{}, q.workers)
	for i := 0; i < q.workers; i++ {
		go func(id int) {
			q.runWorker(ctx, id)
			done <- struct{}{}
		}(i)
	}
	go func() {
		for i := 0; i < q.workers; i++ {
			<-done
		}
		close(q.done)
	}()
}

// Wait blocks until every worker has exited.
func (q *Queue) Wait() {
	<-q.done
}

func (q *Queue) runWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case qm, ok := <-q.ch:
			if !ok {
				return
			}
			if q.delay > 0 {
				time.Sleep(q.delay)
			}
			if err := q.sender.Send(ctx, qm.msg); err != nil {
				q.handleFailure(ctx, qm, err)
				continue
			}
			q.logger.Debugw("notification sent", "worker", id, "subject", qm.msg.Subject, "to", qm.msg.To)
		}
	}
}

func (q *Queue) handleFailure(ctx context.Context, qm queuedMessage, err error) {
	qm.attempt++
	if qm.attempt > maxRetries {
		q.logger.Warnw("notification dropped after max retries", "subject", qm.msg.Subject, "error", err)
		return
	}
	backoff := baseBackoff * time.Duration(1<<uint(qm.attempt-1))
	q.logger.Infow("notification send failed, retrying", "attempt", qm.attempt, "backoff", backoff, "error", err)
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
			select {
			case q.ch <- qm:
			default:
				q.logger.Warnw("notification queue full on retry, dropping", "subject", qm.msg.Subject)
			}
		}
	}()
}

// Enqueue submits msg for delivery, returning false if the queue is full.
func (q *Queue) Enqueue(msg Message) bool {
	select {
	case q.ch <- queuedMessage{msg: msg}:
		return true
	default:
		q.logger.Warnw("notification queue full, dropping message", "subject", msg.Subject)
		return false
	}
}

// NotifyAdmins enqueues one message addressed to every configured admin
// subscriber.
func (q *Queue) NotifyAdmins(subs Subscribers, subject, body string) {
	if len(subs.Admin) == 0 {
		return
	}
	q.Enqueue(Message{To: subs.Admin, Subject: subject, Body: body})
}

// NotifyClients enqueues one message addressed to every configured client
// subscriber.
func (q *Queue) NotifyClients(subs Subscribers, subject, body string) {
	if len(subs.Client) == 0 {
		return
	}
	q.Enqueue(Message{To: subs.Client, Subject: subject, Body: body})
}
