package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/metrics"
)

// StatusSink records carrier progress callbacks. It is an observability
// sink, not a call-state store: every callback is accepted and journaled in
// arrival order, including unknown statuses and regressions.
type StatusSink struct {
	journal calls.Journal
	log     *slog.Logger
	metrics *metrics.Collector

	Now func() time.Time
}

func NewStatusSink(j calls.Journal, log *slog.Logger, m *metrics.Collector) *StatusSink {
	if j == nil {
		j = calls.NewMemoryJournal(0)
	}
	if log == nil {
		log = slog.Default()
	}
	return &StatusSink{journal: j, log: log, metrics: m, Now: time.Now}
}

// OnStatusCallback records one transition for sid. The returned error is for
// logging; callers acknowledge the carrier regardless.
func (s *StatusSink) OnStatusCallback(ctx context.Context, sid, rawStatus string) (calls.Transition, error) {
	sid = strings.TrimSpace(sid)
	status, known := calls.ParseStatus(rawStatus)
	s.metrics.RecordStatusCallback(string(status), known)

	log := s.log.With("call_sid", sid, "status", string(status))
	if sid == "" || status == "" {
		log.WarnContext(ctx, "status callback missing call sid or status")
		return calls.Transition{}, fmt.Errorf("%w: CallSid and CallStatus are required", ErrInvalidArgument)
	}
	if !known {
		log.WarnContext(ctx, "unrecognized call status")
	}

	t, err := s.journal.Append(ctx, calls.Transition{CallSid: sid, Status: status, ReceivedAt: s.Now().UTC()})
	if err != nil {
		log.ErrorContext(ctx, "status journal append failed", "err", err)
		return t, err
	}

	log = log.With("terminal", status.Terminal())
	if t.OutOfOrder {
		log.InfoContext(ctx, "call status transition out of order")
	} else {
		log.InfoContext(ctx, "call status transition")
	}
	return t, nil
}

// History returns the transitions recorded for sid in arrival order.
func (s *StatusSink) History(ctx context.Context, sid string) ([]calls.Transition, error) {
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return nil, fmt.Errorf("%w: call sid is required", ErrInvalidArgument)
	}
	return s.journal.History(ctx, sid)
}
