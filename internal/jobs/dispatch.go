package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Executor runs one job to completion.
type Executor interface {
	Execute(ctx context.Context, id string) error
}

// Dispatcher triggers execution of a submitted job without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, id string) error
}

// InlineDispatcher runs jobs on goroutines in this process.
type InlineDispatcher struct {
	exec   Executor
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewInlineDispatcher creates a dispatcher that executes jobs in-process.
func NewInlineDispatcher(exec Executor) *InlineDispatcher {
	return &InlineDispatcher{exec: exec, logger: slog.Default()}
}

// Dispatch starts the job in the background. The job outlives ctx's
// cancellation but keeps its trace context.
func (d *InlineDispatcher) Dispatch(ctx context.Context, id string) error {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.exec.Execute(ctx, id); err != nil {
			d.logger.Warn("job execution did not start", "job_id", id, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// DefaultSubject is the NATS subject job triggers are published on.
const DefaultSubject = "paperqa.jobs.execute"

const workerQueue = "paperqa-workers"

// NATSDispatcher publishes job triggers on a NATS subject. Any process
// subscribed with Serve picks each trigger up exactly once per queue group.
type NATSDispatcher struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSDispatcher creates a dispatcher on nc. Empty subject selects DefaultSubject.
func NewNATSDispatcher(nc *nats.Conn, subject string) *NATSDispatcher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSDispatcher{nc: nc, subject: subject, logger: slog.Default()}
}

// Dispatch publishes the job id with the caller's trace context in the headers.
func (d *NATSDispatcher) Dispatch(ctx context.Context, id string) error {
	msg := nats.NewMsg(d.subject)
	msg.Data = []byte(id)
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	if err := d.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing job %s: %w", id, err)
	}
	return nil
}

// Serve subscribes exec to job triggers until the subscription is drained.
func (d *NATSDispatcher) Serve(exec Executor) (*nats.Subscription, error) {
	sub, err := d.nc.QueueSubscribe(d.subject, workerQueue, func(msg *nats.Msg) {
		id := string(msg.Data)
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		if err := exec.Execute(ctx, id); err != nil {
			d.logger.Warn("job execution did not start", "job_id", id, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", d.subject, err)
	}
	return sub, nil
}

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
