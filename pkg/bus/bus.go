package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Reconciliation subjects.
const (
	SubjectPrefix            = "keysync."
	ClientCreatedSubject     = "keysync.clients.created"
	ClientReactivatedSubject = "keysync.clients.reactivated"
	ClientDeletedSubject     = "keysync.clients.deleted"
	RoleCreatedSubject       = "keysync.roles.created"
	RoleReactivatedSubject   = "keysync.roles.reactivated"
	RoleDeletedSubject       = "keysync.roles.deleted"
	AllSubjects              = "keysync.>"
)

const (
	defaultStreamName     = "KEYSYNC"
	defaultStreamMaxAge   = 7 * 24 * time.Hour
	defaultPublishTimeout = 5 * time.Second
)

// Event is the envelope published for every reconciliation outcome.
type Event struct {
	ID      uuid.UUID      `json:"id"`
	Subject string         `json:"subject"`
	Actor   string         `json:"actor"`
	Object  string         `json:"object"`
	Details map[string]any `json:"details,omitempty"`
	At      time.Time      `json:"at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(subject, actor, object string, details map[string]any) Event {
	return Event{
		ID:      uuid.New(),
		Subject: subject,
		Actor:   actor,
		Object:  object,
		Details: details,
		At:      time.Now().UTC(),
	}
}

// Publisher is the subset of Bus the reconciliation engines depend on.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Bus wraps a NATS JetStream connection for publishing and consuming events.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New creates a Bus connected to the provided NATS endpoint and makes sure the
// keysync stream exists.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	if _, err := js.StreamInfo(defaultStreamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return nil, err
		}
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:     defaultStreamName,
			Subjects: []string{AllSubjects},
			MaxAge:   defaultStreamMaxAge,
		}); err != nil {
			nc.Close()
			return nil, err
		}
	}

	return &Bus{conn: nc, js: js}, nil
}

// Close shuts down the underlying NATS connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to the given subject.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return errors.New("nil bus")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()
	}

	_, err = b.js.Publish(subj, data, nats.Context(ctx))
	return err
}

type subscription struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
}

func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sub.Drain()
}

// Subscribe creates a durable consumer on the given subject and invokes fn for each message.
// An empty durable name creates an ephemeral consumer.
func (b *Bus) Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	handler := func(msg *nats.Msg) {
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		if err := fn(handlerCtx, msg.Data); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}

	opts := []nats.SubOpt{nats.ManualAck(), nats.AckExplicit()}
	if durable != "" {
		opts = append(opts, nats.Durable(durable))
	} else {
		opts = append(opts, nats.DeliverNew())
	}

	sub, err := b.js.Subscribe(subj, handler, opts...)
	if err != nil {
		return nil, err
	}

	s := &subscription{sub: sub}

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	return s, nil
}

// Discard is a Publisher that drops every event; used when no broker is configured.
type Discard struct{}

func (Discard) Publish(context.Context, string, any) error { return nil }
