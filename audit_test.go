package authchain

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func collectEvents(t *testing.T, sink *ChannelSink, want int) []AuditEvent {
	t.Helper()

	events := make([]AuditEvent, 0, want)
	timeout := time.After(2 * time.Second)
	for len(events) < want {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("collected %d events, want %d", len(events), want)
		}
	}
	return events
}

func TestAuditEventsForLoginFlow(t *testing.T) {
	sink := NewChannelSink(32)

	cfg := testConfig()
	cfg.Chain.Order = []string{StepCredentials}
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 32}

	principals := newFakePrincipals()
	pipe, err := NewBuilder().
		WithConfig(cfg).
		WithPrincipalStore(principals).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer pipe.Close()

	hash, err := pipe.hasher.Hash("pw-alice-1")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	principals.add(&Principal{ID: "u1", LoginName: "alice", PasswordHash: hash})

	ctx := WithClientIP(context.Background(), "10.0.0.9")
	state := pipe.NewState(ctx)
	if _, err := pipe.Submit(ctx, StepCredentials, Credentials{
		FieldLogin:    "alice",
		FieldPassword: "pw-alice-1",
	}, state); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	events := collectEvents(t, sink, 3)

	if events[0].EventType != AuditAttemptStarted {
		t.Errorf("first event = %s, want %s", events[0].EventType, AuditAttemptStarted)
	}
	if events[1].EventType != AuditStepSucceeded || events[1].StepID != StepCredentials {
		t.Errorf("second event = %+v, want credentials success", events[1])
	}
	if events[2].EventType != AuditChainCompleted {
		t.Errorf("third event = %s, want %s", events[2].EventType, AuditChainCompleted)
	}

	for _, ev := range events {
		if ev.AttemptID != state.AttemptID {
			t.Errorf("event %s attempt ID = %q, want %q", ev.EventType, ev.AttemptID, state.AttemptID)
		}
		if ev.IP != "10.0.0.9" {
			t.Errorf("event %s IP = %q, want 10.0.0.9", ev.EventType, ev.IP)
		}
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := blockingSink{block: block}

	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(block)
		d.Close()
	}()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		d.Emit(ctx, AuditEvent{EventType: AuditStepFailed})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a full buffer and a blocked sink")
	}
}

type blockingSink struct {
	block chan struct{}
}

func (s blockingSink) Emit(_ context.Context, _ AuditEvent) {
	<-s.block
}

func TestDispatcherCloseDrains(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: AuditStepSucceeded})
	}
	d.Close()

	drained := 0
	for {
		select {
		case <-sink.Events():
			drained++
		default:
			if drained != 5 {
				t.Fatalf("drained %d events, want 5", drained)
			}
			return
		}
	}
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("disabled audit must not start a dispatcher")
	}
	// Nil receivers are safe.
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports zero drops")
	}
}

func TestJSONWriterSinkOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{EventType: AuditStepFailed, AttemptID: "a1", Success: false})
	sink.Emit(context.Background(), AuditEvent{EventType: AuditChainCompleted, AttemptID: "a1", Success: true})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var ev AuditEvent
	if err := json.Unmarshal(lines[0], &ev); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if ev.EventType != AuditStepFailed || ev.AttemptID != "a1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
