package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/meshagent/internal/metrics"
)

// Kind classifies a span.
type Kind string

const (
	KindRequest    Kind = "request"
	KindModel      Kind = "model"
	KindTool       Kind = "tool"
	KindDelegation Kind = "delegation"
)

const tracerName = "meshagent"

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Enabled bool
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Tracker keeps a stack of open spans per logical execution. The stack lives
// in the context, so concurrent requests never see each other's spans and a
// child closed on one goroutine restores its own parent only.
//
// A nil or disabled Tracker turns every operation into a no-op.
type Tracker struct {
	enabled bool
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

type spanRecord struct {
	name   string
	kind   Kind
	start  time.Time
	span   trace.Span
	parent *spanRecord

	mu    sync.Mutex
	ended bool
}

type spanKey struct{}

// NewTracker creates a span tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		enabled: cfg.Enabled,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

// Enabled reports whether spans are recorded.
func (t *Tracker) Enabled() bool {
	return t != nil && t.enabled
}

// Begin opens a span as a child of the innermost open span in ctx and returns
// a context carrying it.
func (t *Tracker) Begin(ctx context.Context, name string, kind Kind, attrs ...attribute.KeyValue) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if !t.Enabled() {
		return ctx
	}

	attrs = append(attrs, attribute.String("meshagent.span.kind", string(kind)))
	ctx, span := StartSpan(ctx, tracerName, name, attrs...)

	rec := &spanRecord{
		name:   name,
		kind:   kind,
		start:  t.now(),
		span:   span,
		parent: openRecord(ctx),
	}

	return context.WithValue(ctx, spanKey{}, rec)
}

// Success closes the span carried by ctx with an ok status.
func (t *Tracker) Success(ctx context.Context) {
	t.end(ctx, nil)
}

// Failure closes the span carried by ctx, recording err.
func (t *Tracker) Failure(ctx context.Context, err error) {
	t.end(ctx, err)
}

func (t *Tracker) end(ctx context.Context, err error) {
	if !t.Enabled() || ctx == nil {
		return
	}

	rec, _ := ctx.Value(spanKey{}).(*spanRecord)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	if rec.ended {
		rec.mu.Unlock()
		return
	}
	rec.ended = true
	rec.mu.Unlock()

	elapsed := t.now().Sub(rec.start)
	status := "success"
	if err != nil {
		status = "error"
		rec.span.RecordError(err)
		rec.span.SetStatus(codes.Error, err.Error())
	} else {
		rec.span.SetStatus(codes.Ok, "")
	}
	rec.span.SetAttributes(attribute.Float64("meshagent.duration_ms", float64(elapsed.Microseconds())/1000))
	rec.span.End()

	t.metrics.ObserveSpan(string(rec.kind), status, elapsed.Seconds())

	t.logger.Debug().
		Str("span", rec.name).
		Str("kind", string(rec.kind)).
		Str("status", status).
		Dur("elapsed", elapsed).
		Msg("Span ended")
}

// Current returns the name of the innermost open span in ctx.
func (t *Tracker) Current(ctx context.Context) (string, bool) {
	if !t.Enabled() || ctx == nil {
		return "", false
	}
	rec := openRecord(ctx)
	if rec == nil {
		return "", false
	}
	return rec.name, true
}

// Stack returns the names of the open spans in ctx, outermost first.
func (t *Tracker) Stack(ctx context.Context) []string {
	if !t.Enabled() || ctx == nil {
		return nil
	}
	var names []string
	for rec := openRecord(ctx); rec != nil; rec = openParent(rec) {
		names = append([]string{rec.name}, names...)
	}
	return names
}

// openRecord returns the innermost record in ctx that has not ended.
func openRecord(ctx context.Context) *spanRecord {
	rec, _ := ctx.Value(spanKey{}).(*spanRecord)
	for rec != nil && rec.isEnded() {
		rec = rec.parent
	}
	return rec
}

func openParent(rec *spanRecord) *spanRecord {
	p := rec.parent
	for p != nil && p.isEnded() {
		p = p.parent
	}
	return p
}

func (r *spanRecord) isEnded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}
