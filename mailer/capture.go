package mailer

import (
	"context"
	"sync"

	"github.com/EkilDavi/authchain"
)

// Message is one captured delivery.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Capture records deliveries in memory instead of sending them. It serves
// tests and local development. Safe for concurrent use.
type Capture struct {
	mu       sync.Mutex
	messages []Message

	// Fail, when set, makes every Send return this error.
	Fail error
}

func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) Send(_ context.Context, to *authchain.Principal, subject, body string) error {
	if c.Fail != nil {
		return c.Fail
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, Message{To: to.Email, Subject: subject, Body: body})
	return nil
}

// Messages returns a copy of everything captured so far.
func (c *Capture) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Discard drops every message; the zero value is usable.
type Discard struct{}

func (Discard) Send(context.Context, *authchain.Principal, string, string) error {
	return nil
}
