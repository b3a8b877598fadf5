// Package notify delivers attendance notifications produced by sweeps.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"classattend/internal/attendance"
	"classattend/internal/queue"

	"github.com/sirupsen/logrus"
)

const typePrefix = "attendance."

// MessageType is the queue/routing type of a notification, e.g. "attendance.late".
func MessageType(n attendance.Notification) string {
	return typePrefix + string(n.Kind)
}

// QueueDispatcher publishes notifications onto a queue.Queue.
type QueueDispatcher struct {
	q queue.Queue
}

// NewQueueDispatcher wraps q.
func NewQueueDispatcher(q queue.Queue) *QueueDispatcher {
	return &QueueDispatcher{q: q}
}

// Notify enqueues n.
func (d *QueueDispatcher) Notify(ctx context.Context, n attendance.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return d.q.Publish(ctx, queue.Message{Type: MessageType(n), Body: body, EnqueuedAt: time.Now().UTC()})
}

// Decode turns a queue message back into a notification.
func Decode(msg queue.Message) (attendance.Notification, error) {
	if !strings.HasPrefix(msg.Type, typePrefix) {
		return attendance.Notification{}, fmt.Errorf("notify: unexpected message type %q", msg.Type)
	}
	var n attendance.Notification
	if err := json.Unmarshal(msg.Body, &n); err != nil {
		return attendance.Notification{}, fmt.Errorf("notify: decode %s: %w", msg.Type, err)
	}
	return n, nil
}

// Handler receives relayed notifications.
type Handler func(ctx context.Context, n attendance.Notification) error

// Relay consumes q until ctx ends and hands every notification to h.
// Handler and decode failures are logged and the message dropped.
func Relay(ctx context.Context, q queue.Queue, h Handler, log logrus.FieldLogger) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		n, err := Decode(msg)
		if err != nil {
			log.WithError(err).Warn("dropping notification")
			continue
		}
		if err := h(ctx, n); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"student": n.StudentID,
				"kind":    n.Kind,
			}).Error("notification handler failed")
		}
	}
	return ctx.Err()
}

// LogHandler writes each notification as a structured log line.
func LogHandler(log logrus.FieldLogger) Handler {
	return func(_ context.Context, n attendance.Notification) error {
		log.WithFields(logrus.Fields{
			"student":   n.StudentID,
			"kind":      n.Kind,
			"classroom": n.ClassroomID,
			"class":     n.ClassCode,
			"subject":   n.Subject,
			"date":      n.Date,
		}).Info("attendance notification")
		return nil
	}
}
