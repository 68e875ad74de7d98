package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/vivavoce/internal/api"
	"github.com/MrWong99/vivavoce/internal/assessment"
	"github.com/MrWong99/vivavoce/internal/evaluation"
	"github.com/MrWong99/vivavoce/internal/health"
	"github.com/MrWong99/vivavoce/internal/observe"
	"github.com/MrWong99/vivavoce/internal/results"
	"github.com/MrWong99/vivavoce/internal/sessionstore"
)

// ── fakes ─────────────────────────────────────────────────────────────────────

type fakeGrader struct {
	mu       sync.Mutex
	feedback string
	err      error
	got      []evaluation.Request
}

func (g *fakeGrader) Evaluate(_ context.Context, req evaluation.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.got = append(g.got, req)
	return g.feedback, g.err
}

type failingStore struct{ results.Store }

func (failingStore) Save(context.Context, evaluation.Result) error {
	return errors.New("db down")
}

type fakeLive struct {
	mu    sync.Mutex
	quits []string
	known map[string]bool
}

func (l *fakeLive) Serve(ctx context.Context, ws *websocket.Conn) error {
	defer ws.CloseNow()
	return wsjson.Write(ctx, ws, map[string]string{"type": "session", "text": "s-1"})
}

func (l *fakeLive) Quit(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.known[id] {
		return fmt.Errorf("quit %q: %w", id, sessionstore.ErrNotFound)
	}
	l.quits = append(l.quits, id)
	return nil
}

type fixture struct {
	srv       *httptest.Server
	grader    *fakeGrader
	results   *results.Memory
	snapshots *sessionstore.Memory
	live      *fakeLive
}

func newFixture(t *testing.T, mutate func(*api.Config)) *fixture {
	t.Helper()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{
		grader:    &fakeGrader{feedback: "Score: 72\nOverall: solid"},
		results:   results.NewMemory(),
		snapshots: sessionstore.NewMemory(),
		live:      &fakeLive{known: map[string]bool{"live-1": true}},
	}
	cfg := api.Config{
		Grader:         f.grader,
		Results:        f.results,
		Snapshots:      f.snapshots,
		Live:           f.live,
		Health:         health.New(),
		Metrics:        met,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "# metrics\n") }),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.srv = httptest.NewServer(api.NewHandler(cfg))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

const fullRequest = `{"question1":"q1","answer1":"a1","question2":"q2","answer2":"a2",
"question3":"q3","answer3":"a3","question4":"q4","answer4":"a4"}`

// ── grading ───────────────────────────────────────────────────────────────────

func TestEvaluateAnswer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		mutate     func(*api.Config)
		graderErr  error
		body       string
		wantStatus int
		wantScore  int
		wantText   string
	}{
		{name: "graded", body: fullRequest, wantStatus: http.StatusOK, wantScore: 72, wantText: "solid"},
		{name: "grader error", body: fullRequest, graderErr: errors.New("model overloaded"), wantStatus: http.StatusInternalServerError, wantText: "model overloaded"},
		{name: "malformed body", body: `{"question1":`, wantStatus: http.StatusInternalServerError, wantText: "Error:"},
		{
			name:       "grading disabled",
			mutate:     func(c *api.Config) { c.Grader = nil },
			body:       fullRequest,
			wantStatus: http.StatusInternalServerError,
			wantText:   "not configured",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.mutate)
			f.grader.err = tt.graderErr

			resp, body := f.post(t, "/evaluate-answer", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status: got %d, want %d (%s)", resp.StatusCode, tt.wantStatus, body)
			}
			var out evaluation.Response
			if err := json.Unmarshal(body, &out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got := evaluation.ParseScore(out.Feedback); got != tt.wantScore {
				t.Errorf("score: got %d, want %d", got, tt.wantScore)
			}
			if !strings.Contains(out.Feedback, tt.wantText) {
				t.Errorf("feedback %q does not contain %q", out.Feedback, tt.wantText)
			}
		})
	}
}

func TestEvaluateAnswer_PassesPairs(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.post(t, "/evaluate-answer", fullRequest)

	f.grader.mu.Lock()
	defer f.grader.mu.Unlock()
	if len(f.grader.got) != 1 {
		t.Fatalf("grader calls: got %d", len(f.grader.got))
	}
	if got := f.grader.got[0]; got.Question3 != "q3" || got.Answer4 != "a4" {
		t.Errorf("request not decoded: %+v", got)
	}
}

func TestStoreExamResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	resp, body := f.post(t, "/store-exam-result", `{"student_name":"Ada","subject":"math","topic":"calculus","score":88}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d (%s)", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "stored successfully") {
		t.Errorf("body: %s", body)
	}

	recs, err := f.results.List(context.Background(), results.ListOptions{})
	if err != nil || len(recs) != 1 {
		t.Fatalf("stored records: %v, %v", recs, err)
	}
	got := recs[0]
	if got.Cheated {
		t.Error("cheated should default to false")
	}
	if got.EntryTime.IsZero() {
		t.Error("entry_time should default to now")
	}
	if got.Score != 88 || got.Topic != "calculus" {
		t.Errorf("record: %+v", got)
	}
}

func TestStoreExamResult_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*api.Config)
		body   string
	}{
		{name: "malformed", body: `not json`},
		{name: "missing name", body: `{"subject":"math","score":1}`},
		{name: "store error", mutate: func(c *api.Config) { c.Results = failingStore{} }, body: `{"student_name":"A","subject":"s"}`},
		{name: "no store", mutate: func(c *api.Config) { c.Results = nil }, body: `{"student_name":"A","subject":"s"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.mutate)
			resp, body := f.post(t, "/store-exam-result", tt.body)
			if resp.StatusCode != http.StatusInternalServerError {
				t.Fatalf("status: got %d", resp.StatusCode)
			}
			var out struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(body, &out); err != nil || out.Error == "" {
				t.Errorf("want error body, got %s", body)
			}
		})
	}
}

func TestExtractKeywords(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	resp, body := f.post(t, "/extract-keywords", `{"text":"Photosynthesis converts sunlight into chemical energy."}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d (%s)", resp.StatusCode, body)
	}
	var out struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Keywords) == 0 || len(out.Keywords) > 2 {
		t.Errorf("keywords: got %v", out.Keywords)
	}

	resp, _ = f.post(t, "/extract-keywords", `{}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("missing text: got %d", resp.StatusCode)
	}

	_, body = f.post(t, "/extract-keywords", `{"text":""}`)
	if !strings.Contains(string(body), `"keywords":[]`) {
		t.Errorf("empty text should yield an empty list, got %s", body)
	}
}

func TestListExamResults(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, name := range []string{"Ada", "Grace", "ada"} {
		res := evaluation.Result{StudentName: name, Subject: "math", Score: i, EntryTime: base.Add(time.Duration(i) * time.Hour)}
		if err := f.results.Save(ctx, res); err != nil {
			t.Fatal(err)
		}
	}

	_, body := f.get(t, "/exam-results?student_name=ADA&limit=1")
	var recs []results.Record
	if err := json.Unmarshal(body, &recs); err != nil {
		t.Fatalf("decode: %v (%s)", err, body)
	}
	if len(recs) != 1 || recs[0].Score != 2 {
		t.Errorf("records: %+v", recs)
	}

	resp, _ := f.get(t, "/exam-results?limit=-1")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit: got %d", resp.StatusCode)
	}
}

// ── sessions ──────────────────────────────────────────────────────────────────

func TestSessions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	snap := assessment.Snapshot{
		ID:            "live-1",
		Phase:         assessment.PhaseTopic,
		CandidateName: "Ada",
		Subject:       "physics",
		UpdatedAt:     time.Now(),
	}
	if err := f.snapshots.Put(context.Background(), snap); err != nil {
		t.Fatal(err)
	}

	_, body := f.get(t, "/sessions")
	if !strings.Contains(string(body), `"live-1"`) {
		t.Errorf("list: %s", body)
	}

	resp, body := f.get(t, "/sessions/live-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status %d", resp.StatusCode)
	}
	var got assessment.Snapshot
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Phase != assessment.PhaseTopic || got.CandidateName != "Ada" {
		t.Errorf("snapshot: %+v", got)
	}

	resp, _ = f.get(t, "/sessions/unknown")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session: got %d", resp.StatusCode)
	}
}

func TestQuitSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	resp, _ := f.post(t, "/sessions/live-1/quit", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("quit: got %d", resp.StatusCode)
	}
	resp, _ = f.post(t, "/sessions/other/quit", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("quit unknown: got %d", resp.StatusCode)
	}

	f.live.mu.Lock()
	defer f.live.mu.Unlock()
	if len(f.live.quits) != 1 || f.live.quits[0] != "live-1" {
		t.Errorf("quits: %v", f.live.quits)
	}
}

func TestHostWebsocket(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http")+"/host", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()

	var msg map[string]string
	if err := wsjson.Read(ctx, ws, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["type"] != "session" || msg["text"] != "s-1" {
		t.Errorf("first message: %v", msg)
	}
}

// ── ambient routes ────────────────────────────────────────────────────────────

func TestAmbientRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, _ := f.get(t, path)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: got %d", path, resp.StatusCode)
		}
	}

	req, _ := http.NewRequest(http.MethodOptions, f.srv.URL+"/evaluate-answer", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
