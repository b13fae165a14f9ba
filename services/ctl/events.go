package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"keysync/pkg/bus"
)

// Subscriber is the consuming half of the bus.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// Tail prints every event on subject until ctx is done. It uses an ephemeral
// consumer so it never steals messages from the auditor.
func Tail(ctx context.Context, sub Subscriber, subject string, w io.Writer) error {
	if subject == "" {
		subject = bus.AllSubjects
	}
	closer, err := sub.Subscribe(ctx, subject, "", func(_ context.Context, data []byte) error {
		_, err := fmt.Fprintln(w, FormatEvent(data))
		return err
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer closer.Close()

	<-ctx.Done()
	return nil
}

// FormatEvent renders one event as a single line. Undecodable payloads are
// printed raw.
func FormatEvent(data []byte) string {
	var evt bus.Event
	if err := json.Unmarshal(data, &evt); err != nil || evt.Subject == "" {
		return "? " + strings.TrimSpace(string(data))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-28s %s by %s", evt.At.UTC().Format(time.RFC3339), evt.Subject, evt.Object, evt.Actor)
	keys := make([]string, 0, len(evt.Details))
	for k := range evt.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, evt.Details[k])
	}
	return b.String()
}
