// Package events connects the sync scheduler to NATS.
//
// Catalog owners publish a ChangeEvent on the changes subject whenever
// products are added, edited or removed; the subscriber turns it into a
// scheduler trigger. After every sync run a CompletedEvent is published on
// the completed subject. Trace context travels in message headers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/similard/internal/indexer"
)

// Default subjects.
const (
	DefaultChangesSubject   = "catalog.products.changed"
	DefaultCompletedSubject = "similard.sync.completed"
)

// Config configures a Bus.
type Config struct {
	URL              string
	ChangesSubject   string
	CompletedSubject string
}

// ApplyDefaults fills empty fields.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.ChangesSubject == "" {
		c.ChangesSubject = DefaultChangesSubject
	}
	if c.CompletedSubject == "" {
		c.CompletedSubject = DefaultCompletedSubject
	}
}

// ChangeEvent announces a catalog change. Full requests a full re-sync.
type ChangeEvent struct {
	ProductIDs []string `json:"product_ids,omitempty"`
	Full       bool     `json:"full,omitempty"`
}

// CompletedEvent summarizes a finished sync run.
type CompletedEvent struct {
	RunID      string    `json:"run_id"`
	Mode       string    `json:"mode"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Deleted    int       `json:"deleted"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewCompletedEvent builds the event for a run. rep may be nil when the
// run aborted before producing a report.
func NewCompletedEvent(rep *indexer.Report, err error, finished time.Time) CompletedEvent {
	ev := CompletedEvent{FinishedAt: finished.UTC()}
	if rep != nil {
		ev.RunID = rep.RunID
		ev.Mode = string(rep.Mode)
		ev.Succeeded = len(rep.Succeeded)
		ev.Failed = len(rep.Failed) + len(rep.DeleteFailed)
		ev.Skipped = len(rep.Skipped)
		ev.Deleted = len(rep.Deleted)
		ev.DurationMS = rep.Duration.Milliseconds()
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// Triggerer accepts sync requests. *indexer.Scheduler implements it.
type Triggerer interface {
	Trigger(mode indexer.Mode)
}

// Bus publishes and consumes sync events over one NATS connection.
type Bus struct {
	nc     *nats.Conn
	owned  bool
	config Config
	logger *zap.Logger
}

// Connect dials cfg.URL and returns a Bus that closes the connection on
// Close.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Bus, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("similard"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.URL, err)
	}
	b := NewBus(nc, cfg, logger)
	b.owned = true
	return b, nil
}

// NewBus wraps an existing connection. Close leaves it open.
func NewBus(nc *nats.Conn, cfg Config, logger *zap.Logger) *Bus {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{nc: nc, config: cfg, logger: logger}
}

// SubscribeChanges triggers a sync for every ChangeEvent. Malformed
// messages are logged and dropped.
func (b *Bus) SubscribeChanges(trig Triggerer) (*nats.Subscription, error) {
	if trig == nil {
		return nil, errors.New("events: triggerer required")
	}
	sub, err := b.nc.Subscribe(b.config.ChangesSubject, func(msg *nats.Msg) {
		var ev ChangeEvent
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				b.logger.Warn("dropping malformed change event",
					zap.String("subject", msg.Subject), zap.Error(err))
				return
			}
		}
		mode := indexer.ModeIncremental
		if ev.Full {
			mode = indexer.ModeFull
		}
		b.logger.Debug("catalog change received",
			zap.Int("products", len(ev.ProductIDs)), zap.String("mode", string(mode)))
		trig.Trigger(mode)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", b.config.ChangesSubject, err)
	}
	return sub, nil
}

// PublishChange announces a catalog change.
func (b *Bus) PublishChange(ctx context.Context, ev ChangeEvent) error {
	return b.publish(ctx, b.config.ChangesSubject, ev)
}

// PublishCompleted publishes the summary of a finished run.
func (b *Bus) PublishCompleted(ctx context.Context, ev CompletedEvent) error {
	return b.publish(ctx, b.config.CompletedSubject, ev)
}

// CompletionHook returns a scheduler callback that publishes every run.
// Publish failures are logged.
func (b *Bus) CompletionHook() indexer.CompletionFunc {
	return func(rep *indexer.Report, err error) {
		ev := NewCompletedEvent(rep, err, time.Now())
		if perr := b.PublishCompleted(context.Background(), ev); perr != nil {
			b.logger.Warn("publishing sync completion failed", zap.String("run_id", ev.RunID), zap.Error(perr))
		}
	}
}

func (b *Bus) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding event for %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection if the Bus opened it.
func (b *Bus) Close() error {
	if !b.owned {
		return nil
	}
	return b.nc.Drain()
}

// headerCarrier adapts nats.Msg headers to propagation.TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
