// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/fortauth/fort/internal/logging"
	"github.com/fortauth/fort/pkg/errutil"
)

// Notification channels.
const (
	ChannelMail = "mail"
	ChannelSMS  = "sms"
)

// Notification templates.
const (
	TemplatePasswordReset = "password.reset"
	TemplatePhoneCode     = "twofactor.phone_code"
)

// Notification is a message handed to the delivery collaborator.
type Notification struct {
	Channel     string
	Destination string
	Template    string
	Data        map[string]string
}

// Notifier delivers notifications. Delivery is external to Fort.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// DefaultDispatchQueue and DefaultDeliveryTimeout size the dispatcher.
const (
	DefaultDispatchQueue   = 64
	DefaultDeliveryTimeout = 30 * time.Second
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Notifier        Notifier
	Logger          *slog.Logger
	QueueSize       int
	DeliveryTimeout time.Duration
}

type dispatchJob struct {
	ctx context.Context
	n   Notification
}

// Dispatcher hands notifications to a Notifier on a background goroutine so
// callers never wait on delivery. A full queue drops the notification.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan dispatchJob
	done   chan struct{}
}

// NewDispatcher starts the delivery goroutine. Close stops it.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Notifier == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("notifier is required")
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultDispatchQueue
	}
	timeout := cfg.DeliveryTimeout
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}

	d := &Dispatcher{
		notifier: cfg.Notifier,
		logger:   logging.OrDiscard(cfg.Logger),
		timeout:  timeout,
		queue:    make(chan dispatchJob, size),
		done:     make(chan struct{}),
	}
	go d.run()
	return d, nil
}

// Dispatch enqueues n and returns immediately. It reports false when the
// dispatcher is closed or the queue is full. The caller's context values
// are kept but its cancellation is not.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		notificationsDispatched.WithLabelValues(n.Channel, "dropped").Inc()
		return false
	}
	select {
	case d.queue <- dispatchJob{ctx: context.WithoutCancel(ctx), n: n}:
		return true
	default:
		notificationsDispatched.WithLabelValues(n.Channel, "dropped").Inc()
		d.logger.WarnContext(ctx, "notification queue full, dropping",
			"channel", n.Channel, "template", n.Template)
		return false
	}
}

// Close stops accepting work and waits for queued notifications to be
// delivered or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return oops.Code("DISPATCHER_CLOSE_TIMEOUT").Wrap(ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job dispatchJob) {
	ctx, cancel := context.WithTimeout(job.ctx, d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, job.n); err != nil {
		notificationsDispatched.WithLabelValues(job.n.Channel, "failed").Inc()
		errutil.LogWarn(ctx, d.logger, "notification delivery failed",
			oops.Code("NOTIFY_FAILED").
				With("channel", job.n.Channel).
				With("template", job.n.Template).
				Wrap(err))
		return
	}
	notificationsDispatched.WithLabelValues(job.n.Channel, "delivered").Inc()
}
