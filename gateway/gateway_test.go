package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"verdantdo/domain"
	"verdantdo/storage"
	"verdantdo/storage/memstore"
)

type countingWriter struct {
	Writer
	inserts int
	err     error
	panic   bool
}

func (c *countingWriter) InsertTask(ctx context.Context, principal string, t domain.NewTask) (domain.Task, error) {
	c.inserts++
	if c.panic {
		panic("boom")
	}
	if c.err != nil {
		return domain.Task{}, c.err
	}
	return c.Writer.InsertTask(ctx, principal, t)
}

func newGateway(t *testing.T, principal string) (*Gateway, *memstore.Store) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memstore.New()
	return New(store, principal, logger), store
}

func milk(userID string) domain.NewTask {
	return domain.NewTask{Title: "Buy milk", DueDate: time.Now().Add(24 * time.Hour), CategoryID: "catX", UserID: userID}
}

func TestCreateTask(t *testing.T) {
	g, _ := newGateway(t, "u1")
	res := g.CreateTask(context.Background(), milk("u1"))
	if !res.OK() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value.ID == "" || res.Value.CreatedAt.IsZero() {
		t.Fatalf("store must assign id and createdAt: %+v", res.Value)
	}
	if res.Value.Completed {
		t.Fatalf("new tasks must start open")
	}
	if res.Value.Title != "Buy milk" || res.Value.UserID != "u1" {
		t.Fatalf("unexpected task %+v", res.Value)
	}
}

func TestCreateTaskInvalidDoesNotWrite(t *testing.T) {
	logger, _ := test.NewNullLogger()
	w := &countingWriter{Writer: memstore.New()}
	g := New(w, "u1", logger)

	in := milk("u1")
	in.Title = " x "
	res := g.CreateTask(context.Background(), in)
	if res.OK() || res.Err.Kind != KindInvalid {
		t.Fatalf("expected invalid, got %+v", res.Err)
	}
	if w.inserts != 0 {
		t.Fatalf("invalid payload reached the store")
	}
	if !errors.Is(res.Err, domain.ErrInvalid) {
		t.Fatalf("error does not unwrap to ErrInvalid")
	}
}

func TestCreateTaskForOtherUserIsDenied(t *testing.T) {
	g, _ := newGateway(t, "u1")
	res := g.CreateTask(context.Background(), milk("u2"))
	if res.OK() || res.Err.Kind != KindPermissionDenied {
		t.Fatalf("expected permission denied, got %+v", res.Err)
	}
}

func TestNoPrincipal(t *testing.T) {
	g, _ := newGateway(t, "")
	if res := g.DeleteTask(context.Background(), "t1"); res.OK() || res.Err.Kind != KindPermissionDenied {
		t.Fatalf("expected permission denied without a principal, got %+v", res.Err)
	}
}

func TestDuplicateCategoriesAreDistinct(t *testing.T) {
	g, _ := newGateway(t, "u1")
	ctx := context.Background()
	a := g.CreateCategory(ctx, domain.NewCategory{Name: "Home", UserID: "u1"})
	b := g.CreateCategory(ctx, domain.NewCategory{Name: " Home ", UserID: "u1"})
	if !a.OK() || !b.OK() {
		t.Fatalf("unexpected errors: %v %v", a.Err, b.Err)
	}
	if a.Value.ID == b.Value.ID || b.Value.Name != "Home" {
		t.Fatalf("expected two distinct categories named Home, got %+v %+v", a.Value, b.Value)
	}
}

func TestSetCompletionAndDelete(t *testing.T) {
	g, _ := newGateway(t, "u1")
	ctx := context.Background()
	created := g.CreateTask(ctx, milk("u1"))
	if !created.OK() {
		t.Fatalf("create: %v", created.Err)
	}

	if res := g.SetTaskCompletion(ctx, created.Value.ID, true); !res.OK() {
		t.Fatalf("complete: %v", res.Err)
	}
	if res := g.SetTaskCompletion(ctx, "missing", true); res.OK() || res.Err.Kind != KindNotFound {
		t.Fatalf("expected not found, got %+v", res.Err)
	}
	if res := g.SetTaskCompletion(ctx, "", true); res.OK() || res.Err.Kind != KindInvalid {
		t.Fatalf("expected invalid for empty id, got %+v", res.Err)
	}

	other := New(g.store, "u2", g.logger)
	if res := other.DeleteTask(ctx, created.Value.ID); res.OK() || res.Err.Kind != KindPermissionDenied {
		t.Fatalf("expected permission denied for foreign delete, got %+v", res.Err)
	}
	if res := g.DeleteTask(ctx, created.Value.ID); !res.OK() {
		t.Fatalf("delete: %v", res.Err)
	}
	if res := g.DeleteTask(ctx, created.Value.ID); !res.OK() {
		t.Fatalf("second delete must succeed, got %v", res.Err)
	}
}

func TestStoreFailuresAreTagged(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "unavailable", err: fmt.Errorf("%w: table timeout", storage.ErrUnavailable), want: KindUnavailable},
		{name: "denied", err: storage.ErrPermissionDenied, want: KindPermissionDenied},
		{name: "deadline", err: context.DeadlineExceeded, want: KindUnavailable},
		{name: "other", err: errors.New("weird"), want: KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := test.NewNullLogger()
			w := &countingWriter{Writer: memstore.New(), err: tt.err}
			res := New(w, "u1", logger).CreateTask(context.Background(), milk("u1"))
			if res.OK() || res.Err.Kind != tt.want {
				t.Fatalf("expected %s, got %+v", tt.want, res.Err)
			}
			if w.inserts != 1 {
				t.Fatalf("expected exactly one write attempt, got %d", w.inserts)
			}
		})
	}
}

func TestPanicIsRecovered(t *testing.T) {
	logger, hook := test.NewNullLogger()
	w := &countingWriter{Writer: memstore.New(), panic: true}
	res := New(w, "u1", logger).CreateTask(context.Background(), milk("u1"))
	if res.OK() || res.Err.Kind != KindUnknown {
		t.Fatalf("expected unknown error from panic, got %+v", res.Err)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected error log entry, got %#v", entry)
	}
}

func TestMutationTelemetry(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	}()

	logger, hook := test.NewNullLogger()
	g := New(memstore.New(), "u1", logger)
	ctx := context.Background()
	g.CreateTask(ctx, milk("u1"))
	g.SetTaskCompletion(ctx, "missing", true)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name != "gateway.create_task" || spans[0].Status.Code != codes.Ok {
		t.Fatalf("unexpected first span %s %v", spans[0].Name, spans[0].Status.Code)
	}
	failed := spans[1]
	if failed.Name != "gateway.set_task_completion" || failed.Status.Code != codes.Error {
		t.Fatalf("unexpected second span %s %v", failed.Name, failed.Status.Code)
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range failed.Attributes {
		attrs[kv.Key] = kv.Value
	}
	if attrs["mutation.kind"].AsString() != string(KindNotFound) {
		t.Fatalf("missing mutation.kind attribute: %#v", failed.Attributes)
	}

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	ok, warn := entries[0], entries[1]
	if ok.Message != observabilityEvent || ok.Level != log.InfoLevel || ok.Data["severity_text"] != "INFO" {
		t.Fatalf("unexpected success entry %#v", ok)
	}
	if traceID, _ := ok.Data["trace_id"].(string); traceID != spans[0].SpanContext.TraceID().String() {
		t.Fatalf("log entry not correlated with span")
	}
	if warn.Level != log.WarnLevel || warn.Data["severity_number"] != 13 {
		t.Fatalf("unexpected failure entry %#v", warn)
	}
	got, _ := warn.Data["attributes"].(map[string]any)
	if got["mutation.op"] != "set_task_completion" {
		t.Fatalf("unexpected attributes %#v", got)
	}
}
