// Package auditor consumes reconciliation events from the bus and stores them
// in the audit table.
package auditor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"keysync/pkg/bus"
	"keysync/services/store"
)

// DurableName is the JetStream consumer shared by auditor replicas.
const DurableName = "keysync-auditor"

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keysync_auditor_events_total",
	Help: "Reconciliation events consumed by the auditor.",
}, []string{"outcome"})

// Subscriber is the consuming half of the bus.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// Recorder persists audit rows.
type Recorder interface {
	RecordAudit(ctx context.Context, a *store.Audit) error
}

// Auditor records every keysync event exactly once per event id.
type Auditor struct {
	sub    Subscriber
	rec    Recorder
	logger zerolog.Logger

	subsMu sync.Mutex
	subs   []io.Closer
}

// New creates an auditor bound to the provided dependencies.
func New(sub Subscriber, rec Recorder, logger zerolog.Logger) (*Auditor, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	if rec == nil {
		return nil, errors.New("recorder is required")
	}
	return &Auditor{sub: sub, rec: rec, logger: logger}, nil
}

// Start registers the durable subscription and begins processing events.
func (a *Auditor) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("nil auditor")
	}

	closer, err := a.sub.Subscribe(ctx, bus.AllSubjects, DurableName, a.handleEvent)
	if err != nil {
		return err
	}
	a.subsMu.Lock()
	a.subs = append(a.subs, closer)
	a.subsMu.Unlock()

	a.logger.Info().Str("subject", bus.AllSubjects).Str("durable", DurableName).Msg("auditor subscribed")
	return nil
}

// Close tears down active subscriptions.
func (a *Auditor) Close() error {
	if a == nil {
		return nil
	}

	a.subsMu.Lock()
	defer a.subsMu.Unlock()

	var firstErr error
	for _, sub := range a.subs {
		if sub == nil {
			continue
		}
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.subs = nil
	return firstErr
}

// handleEvent stores one event. Malformed payloads are acknowledged and
// dropped; storage failures are returned so the message is redelivered.
func (a *Auditor) handleEvent(ctx context.Context, data []byte) error {
	var evt bus.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		a.logger.Warn().Err(err).Msg("dropping undecodable event")
		eventsTotal.WithLabelValues("dropped").Inc()
		return nil
	}
	if evt.ID == uuid.Nil || !strings.HasPrefix(evt.Subject, bus.SubjectPrefix) {
		a.logger.Warn().Str("subject", evt.Subject).Msg("dropping event without id or keysync subject")
		eventsTotal.WithLabelValues("dropped").Inc()
		return nil
	}

	row := toAudit(evt)
	if err := a.rec.RecordAudit(ctx, row); err != nil {
		a.logger.Error().Err(err).Str("event_id", row.ID).Msg("record audit")
		eventsTotal.WithLabelValues("failed").Inc()
		return err
	}

	a.logger.Debug().
		Str("event_id", row.ID).
		Str("action", row.Action).
		Str("object", row.Obj).
		Msg("event audited")
	eventsTotal.WithLabelValues("recorded").Inc()
	return nil
}

func toAudit(evt bus.Event) *store.Audit {
	details := datatypes.JSONMap{}
	for k, v := range evt.Details {
		details[k] = v
	}
	return &store.Audit{
		ID:      evt.ID.String(),
		Actor:   evt.Actor,
		Action:  strings.TrimPrefix(evt.Subject, bus.SubjectPrefix),
		Obj:     evt.Object,
		Details: details,
		At:      evt.At,
	}
}
