package mailer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/EkilDavi/authchain"
)

func TestCaptureRecordsMessages(t *testing.T) {
	ctx := context.Background()
	capture := NewCapture()

	err := capture.Send(ctx, &authchain.Principal{Email: "alice@example.com"}, "Your sign-in code", "code body")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	messages := capture.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	got := messages[0]
	if got.To != "alice@example.com" || got.Subject != "Your sign-in code" || got.Body != "code body" {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestCaptureFailInjection(t *testing.T) {
	ctx := context.Background()
	capture := NewCapture()
	capture.Fail = errors.New("relay down")

	err := capture.Send(ctx, &authchain.Principal{Email: "alice@example.com"}, "s", "b")
	if err == nil {
		t.Fatal("expected injected failure")
	}
	if len(capture.Messages()) != 0 {
		t.Fatal("failed sends must not be recorded")
	}
}

func TestCaptureConcurrentSends(t *testing.T) {
	ctx := context.Background()
	capture := NewCapture()
	p := &authchain.Principal{Email: "alice@example.com"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = capture.Send(ctx, p, "s", "b")
		}()
	}
	wg.Wait()

	if len(capture.Messages()) != 16 {
		t.Fatalf("expected 16 messages, got %d", len(capture.Messages()))
	}
}

func TestCaptureMessagesReturnsCopy(t *testing.T) {
	ctx := context.Background()
	capture := NewCapture()
	_ = capture.Send(ctx, &authchain.Principal{Email: "alice@example.com"}, "s", "b")

	first := capture.Messages()
	first[0].Body = "mutated"

	if capture.Messages()[0].Body != "b" {
		t.Fatal("mutating the returned slice must not affect the capture")
	}
}

func TestNewSMTPValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  SMTPConfig
	}{
		{"missing host", SMTPConfig{Port: 587, From: "auth@example.com"}},
		{"zero port", SMTPConfig{Host: "mail.example.com", From: "auth@example.com"}},
		{"missing from", SMTPConfig{Host: "mail.example.com", Port: 587}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSMTP(tc.cfg); err == nil {
				t.Fatal("expected config rejection")
			}
		})
	}

	smtp, err := NewSMTP(SMTPConfig{Host: "mail.example.com", Port: 587, From: "auth@example.com"})
	if err != nil {
		t.Fatalf("NewSMTP failed: %v", err)
	}
	if smtp.cfg.TLSMode != "auto" {
		t.Fatalf("expected default TLS mode auto, got %q", smtp.cfg.TLSMode)
	}
}

func TestSMTPSendGuards(t *testing.T) {
	smtp, err := NewSMTP(SMTPConfig{Host: "mail.example.com", Port: 587, From: "auth@example.com"})
	if err != nil {
		t.Fatalf("NewSMTP failed: %v", err)
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := smtp.Send(canceled, &authchain.Principal{Email: "a@example.com"}, "s", "b"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if err := smtp.Send(context.Background(), &authchain.Principal{}, "s", "b"); err == nil {
		t.Fatal("expected rejection for principal without email")
	}
	if err := smtp.Send(context.Background(), nil, "s", "b"); err == nil {
		t.Fatal("expected rejection for nil principal")
	}
}
