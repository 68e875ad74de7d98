package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MrWong99/vivavoce/internal/resilience"
)

func TestParseScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		feedback string
		want     int
	}{
		{"Score: 85\nTopic Understanding: good", 85},
		{"Overall fine. Score: 7", 7},
		{"Score: 0\nError: quota exceeded", 0},
		{"score: 90", 0},
		{"Score: abc", 0},
		{"", 0},
		{"Score: 40 then Score: 90", 40},
	}
	for _, tt := range tests {
		if got := ParseScore(tt.feedback); got != tt.want {
			t.Errorf("ParseScore(%q) = %d, want %d", tt.feedback, got, tt.want)
		}
	}
}

func TestClient_Evaluate(t *testing.T) {
	t.Parallel()
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathEvaluate || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(Response{Feedback: "Score: 85\nOverall: solid"})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	fb, err := c.Evaluate(context.Background(), Request{Question1: "Q1", Answer1: "A1"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ParseScore(fb) != 85 {
		t.Errorf("feedback = %q", fb)
	}
	if got.Question1 != "Q1" || got.Answer1 != "A1" {
		t.Errorf("server received %+v", got)
	}
}

func TestClient_PropagatesTraceContext(t *testing.T) {
	t.Parallel()
	traceparent := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent <- r.Header.Get("traceparent")
		_ = json.NewEncoder(w).Encode(Response{Feedback: "Score: 1"})
	}))
	defer srv.Close()

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "session")
	defer span.End()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.Evaluate(ctx, Request{}); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	got := <-traceparent
	if want := span.SpanContext().TraceID().String(); len(got) < 36 || got[3:35] != want {
		t.Errorf("traceparent = %q, want trace id %s", got, want)
	}
}

func TestClient_EvaluateFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"feedback":"Score: 0\nError: boom"}`, http.StatusInternalServerError)
			},
			check: func(t *testing.T, err error) {
				var se *StatusError
				if !errors.As(err, &se) || se.Status != http.StatusInternalServerError {
					t.Errorf("err = %v, want StatusError 500", err)
				}
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("err = %v, want ErrMalformed", err)
				}
			},
		},
		{
			name: "empty feedback",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"feedback":"  "}`))
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("err = %v, want ErrMalformed", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			c, _ := NewClient(srv.URL)
			_, err := c.Evaluate(context.Background(), Request{})
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
		})
	}
}

func TestClient_StoreResult(t *testing.T) {
	t.Parallel()
	var got Result
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathStore {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":"Exam result stored successfully"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	when := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	err := c.StoreResult(context.Background(), Result{
		StudentName: "Alice", Subject: "physics", Topic: "optics", Score: 85, EntryTime: when,
	})
	if err != nil {
		t.Fatalf("StoreResult: %v", err)
	}
	if got.StudentName != "Alice" || got.Score != 85 || got.Cheated || !got.EntryTime.Equal(when) {
		t.Errorf("server received %+v", got)
	}
}

func TestClient_StoreResultBreaker(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":"db down"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "store", MaxFailures: 2, ResetTimeout: time.Hour})
	c, _ := NewClient(srv.URL, WithStoreBreaker(cb))

	for range 2 {
		if err := c.StoreResult(context.Background(), Result{}); err == nil {
			t.Fatal("expected error")
		}
	}
	if err := c.StoreResult(context.Background(), Result{}); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
}

func TestNewClient_RequiresURL(t *testing.T) {
	t.Parallel()
	if _, err := NewClient("  "); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

type fakeGrader struct{ err error }

func (g fakeGrader) Evaluate(context.Context, Request) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return "Score: 60", nil
}

type fakeSaver struct{ saved []Result }

func (s *fakeSaver) Save(_ context.Context, r Result) error {
	s.saved = append(s.saved, r)
	return nil
}

func TestLocal(t *testing.T) {
	t.Parallel()
	saver := &fakeSaver{}
	l := &Local{Grader: fakeGrader{}, Store: saver}

	fb, err := l.Evaluate(context.Background(), Request{})
	if err != nil || fb != "Score: 60" {
		t.Fatalf("Evaluate = %q, %v", fb, err)
	}
	if err := l.StoreResult(context.Background(), Result{StudentName: "Bob"}); err != nil {
		t.Fatalf("StoreResult: %v", err)
	}
	if len(saver.saved) != 1 {
		t.Errorf("saved = %d, want 1", len(saver.saved))
	}

	boom := errors.New("llm down")
	l.Grader = fakeGrader{err: boom}
	if _, err := l.Evaluate(context.Background(), Request{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}
