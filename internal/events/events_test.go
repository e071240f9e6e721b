package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/similard/internal/indexer"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func connect(t *testing.T, server *natsserver.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

type recordingTrigger struct {
	mu    sync.Mutex
	modes []indexer.Mode
	ch    chan indexer.Mode
}

func newRecordingTrigger() *recordingTrigger {
	return &recordingTrigger{ch: make(chan indexer.Mode, 8)}
}

func (r *recordingTrigger) Trigger(mode indexer.Mode) {
	r.mu.Lock()
	r.modes = append(r.modes, mode)
	r.mu.Unlock()
	r.ch <- mode
}

func (r *recordingTrigger) wait(t *testing.T) indexer.Mode {
	t.Helper()
	select {
	case m := <-r.ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for trigger")
		return ""
	}
}

func TestBus_ChangeEventsTriggerSync(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	bus := NewBus(nc, Config{}, zap.NewNop())
	trig := newRecordingTrigger()

	sub, err := bus.SubscribeChanges(trig)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	ctx := context.Background()
	require.NoError(t, bus.PublishChange(ctx, ChangeEvent{ProductIDs: []string{"p1"}}))
	assert.Equal(t, indexer.ModeIncremental, trig.wait(t))

	require.NoError(t, bus.PublishChange(ctx, ChangeEvent{Full: true}))
	assert.Equal(t, indexer.ModeFull, trig.wait(t))

	// An empty body is a plain incremental trigger.
	require.NoError(t, nc.Publish(DefaultChangesSubject, nil))
	assert.Equal(t, indexer.ModeIncremental, trig.wait(t))
}

func TestBus_MalformedChangeDropped(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	bus := NewBus(nc, Config{}, zap.NewNop())
	trig := newRecordingTrigger()

	sub, err := bus.SubscribeChanges(trig)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	require.NoError(t, nc.Publish(DefaultChangesSubject, []byte("{not json")))
	require.NoError(t, bus.PublishChange(context.Background(), ChangeEvent{Full: true}))

	// Subscriptions deliver in order, so the first trigger seen is the
	// well-formed event.
	assert.Equal(t, indexer.ModeFull, trig.wait(t))
	trig.mu.Lock()
	defer trig.mu.Unlock()
	assert.Len(t, trig.modes, 1)
}

func TestBus_SubscribeChangesRequiresTrigger(t *testing.T) {
	server := startTestNATSServer(t)
	bus := NewBus(connect(t, server), Config{}, nil)

	_, err := bus.SubscribeChanges(nil)
	assert.Error(t, err)
}

func TestBus_CompletionHookPublishes(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	bus := NewBus(nc, Config{CompletedSubject: "test.sync.done"}, zap.NewNop())

	received := make(chan CompletedEvent, 2)
	sub, err := nc.Subscribe("test.sync.done", func(msg *nats.Msg) {
		var ev CompletedEvent
		if json.Unmarshal(msg.Data, &ev) == nil {
			received <- ev
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	rep := &indexer.Report{
		RunID:     "run-1",
		Mode:      indexer.ModeFull,
		Duration:  1500 * time.Millisecond,
		Succeeded: []string{"a", "b"},
		Failed:    []indexer.Failure{{ProductID: "c", Reason: indexer.ReasonEmbeddingUnavailable}},
		Skipped:   []string{"d"},
		Deleted:   []string{"e"},
	}
	hook := bus.CompletionHook()
	hook(rep, rep.Err())
	hook(nil, errors.New("catalog unavailable"))

	select {
	case ev := <-received:
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, "full", ev.Mode)
		assert.Equal(t, 2, ev.Succeeded)
		assert.Equal(t, 1, ev.Failed)
		assert.Equal(t, 1, ev.Skipped)
		assert.Equal(t, 1, ev.Deleted)
		assert.Equal(t, int64(1500), ev.DurationMS)
		assert.Contains(t, ev.Error, "sync completed with failures")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion event")
	}

	select {
	case ev := <-received:
		assert.Empty(t, ev.RunID)
		assert.Equal(t, "catalog unavailable", ev.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for second completion event")
	}
}

func TestConnect(t *testing.T) {
	server := startTestNATSServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bus, err := Connect(ctx, Config{URL: server.ClientURL()}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultChangesSubject, bus.config.ChangesSubject)
	assert.NoError(t, bus.Close())
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Connect(ctx, Config{URL: "nats://127.0.0.1:1"}, nil)
	assert.ErrorContains(t, err, "connecting to nats")
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*headerCarrier)(msg)

	assert.Empty(t, c.Get("traceparent"))
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
}
