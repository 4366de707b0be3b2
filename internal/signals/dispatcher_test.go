package signals

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNotifyRunsHandlersInRegistrationOrder(t *testing.T) {
	d := NewDispatcher(nil, nil)
	var calls []string
	d.Register(EntityRelease, "first", func(_ context.Context, ev Event) error {
		calls = append(calls, "first")
		return nil
	})
	d.Register(EntityRelease, "second", func(_ context.Context, ev Event) error {
		calls = append(calls, "second")
		if !ev.Created {
			t.Fatalf("event Created = false, want true")
		}
		if ev.Instance != "payload" {
			t.Fatalf("event Instance = %v, want payload", ev.Instance)
		}
		return nil
	})
	d.Register(EntityCommit, "other", func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	if err := d.Notify(context.Background(), EntityRelease, "payload", true); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if want := []string{"first", "second"}; !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestRegisterDuplicateKeyReplacesHandler(t *testing.T) {
	d := NewDispatcher(nil, nil)
	var got string
	d.Register(EntityCommit, "link", func(context.Context, Event) error { got = "old"; return nil })
	d.Register(EntityCommit, "audit", func(context.Context, Event) error { return nil })
	d.Register(EntityCommit, "link", func(context.Context, Event) error { got = "new"; return nil })

	if keys := d.Keys(EntityCommit); !reflect.DeepEqual(keys, []string{"link", "audit"}) {
		t.Fatalf("Keys() = %v, want [link audit]", keys)
	}
	if err := d.Notify(context.Background(), EntityCommit, nil, true); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if got != "new" {
		t.Fatalf("handler = %q, want new", got)
	}
}

func TestNotifyStopsOnFirstError(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewDispatcher(nil, reg)
	boom := errors.New("boom")
	ranSecond := false
	d.Register(EntityReleaseMarker, "fails", func(context.Context, Event) error { return boom })
	d.Register(EntityReleaseMarker, "after", func(context.Context, Event) error { ranSecond = true; return nil })

	err := d.Notify(context.Background(), EntityReleaseMarker, nil, false)
	if !errors.Is(err, boom) {
		t.Fatalf("Notify() error = %v, want %v", err, boom)
	}
	if ranSecond {
		t.Fatal("second handler ran after first failed")
	}
	if got := testutil.ToFloat64(d.metrics.dispatchTotal.WithLabelValues(string(EntityReleaseMarker), "fails", "error")); got != 1 {
		t.Fatalf("dispatch_total{outcome=error} = %v, want 1", got)
	}
}

func TestNotifyWithoutHandlersIsNoop(t *testing.T) {
	d := NewDispatcher(nil, nil)
	if err := d.Notify(context.Background(), EntityRelease, nil, true); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	var nilDispatcher *Dispatcher
	if err := nilDispatcher.Notify(context.Background(), EntityRelease, nil, true); err != nil {
		t.Fatalf("nil Notify() error = %v", err)
	}
}

func TestNotifyCreatesSpanPerHandler(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(noop.NewTracerProvider())
		_ = tp.Shutdown(context.Background())
	})

	d := NewDispatcher(nil, nil)
	d.Register(EntityRelease, "expire", func(context.Context, Event) error { return nil })
	d.Register(EntityRelease, "broken", func(context.Context, Event) error { return errors.New("nope") })

	_ = d.Notify(context.Background(), EntityRelease, nil, true)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected two spans, got %d", len(spans))
	}
	if got, want := spans[0].Name(), "signal expire"; got != want {
		t.Fatalf("span name = %q, want %q", got, want)
	}
	if spans[0].Status().Code != codes.Ok {
		t.Fatalf("span status = %v, want Ok", spans[0].Status().Code)
	}
	if spans[1].Status().Code != codes.Error {
		t.Fatalf("span status = %v, want Error", spans[1].Status().Code)
	}
}
