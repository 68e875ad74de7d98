// Package api exposes the vivavoce HTTP surface.
//
// The grading endpoints keep the JSON contract of the evaluation service the
// dialogue talks to (see [evaluation.Client]), so a vivavoce server can act
// as that service for itself or for other deployments:
//
//	POST /evaluate-answer       {question1..4, answer1..4} → {feedback}
//	POST /store-exam-result     evaluation.Result          → {message} | {error}
//	POST /extract-keywords      {text}                     → {keywords}
//	GET  /exam-results          ?student_name=&limit=      → [results.Record]
//
// Session endpoints expose the snapshot store and the live sessions:
//
//	GET  /sessions              → {sessions: [id]}
//	GET  /sessions/{id}         → assessment.Snapshot
//	POST /sessions/{id}/quit    → 202
//	GET  /host                  → websocket, one assessment per connection
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/vivavoce/internal/evaluation"
	"github.com/MrWong99/vivavoce/internal/grader"
	"github.com/MrWong99/vivavoce/internal/health"
	"github.com/MrWong99/vivavoce/internal/keywords"
	"github.com/MrWong99/vivavoce/internal/observe"
	"github.com/MrWong99/vivavoce/internal/results"
	"github.com/MrWong99/vivavoce/internal/sessionstore"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// errGradingDisabled is reported when no grading model is configured.
var errGradingDisabled = errors.New("grading is not configured on this server")

// LiveSessions runs and controls sessions for connected hosts.
type LiveSessions interface {
	// Serve runs a session over ws until the host disconnects.
	Serve(ctx context.Context, ws *websocket.Conn) error

	// Quit ends the live session id. It returns an error wrapping
	// [sessionstore.ErrNotFound] when no such session is connected.
	Quit(id string) error
}

// Config holds the handler dependencies. Nil fields disable the routes that
// need them, except Metrics which defaults to [observe.DefaultMetrics].
type Config struct {
	Grader         evaluation.Grader
	Results        results.Store
	Snapshots      sessionstore.Store
	Live           LiveSessions
	Health         *health.Handler
	Metrics        *observe.Metrics
	MetricsHandler http.Handler

	// OriginPatterns are the browser origins allowed to open /host.
	OriginPatterns []string
}

type server struct {
	cfg Config
}

// NewHandler returns the router serving every vivavoce endpoint.
func NewHandler(cfg Config) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &server{cfg: cfg}

	r := chi.NewRouter()
	r.Use(observe.Middleware(cfg.Metrics))
	r.Use(enableCORS)

	r.Post("/evaluate-answer", s.evaluateAnswer)
	r.Post("/store-exam-result", s.storeExamResult)
	r.Post("/extract-keywords", s.extractKeywords)
	r.Get("/exam-results", s.listExamResults)

	r.Get("/sessions", s.listSessions)
	r.Get("/sessions/{id}", s.getSession)
	r.Post("/sessions/{id}/quit", s.quitSession)
	r.Get("/host", s.serveHost)

	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}
	return r
}

// enableCORS lets browser hosts on other origins call the JSON endpoints.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── Grading ───────────────────────────────────────────────────────────────────

// evaluateAnswer always answers with a feedback body; failures carry a zero
// score so that clients reading "Score: N" see 0.
func (s *server) evaluateAnswer(w http.ResponseWriter, r *http.Request) {
	fail := func(err error) {
		observe.Logger(r.Context()).Warn("api: evaluate answer", "err", err)
		writeJSON(w, http.StatusInternalServerError, evaluation.Response{Feedback: grader.FailureFeedback(err)})
	}
	if s.cfg.Grader == nil {
		fail(errGradingDisabled)
		return
	}
	var req evaluation.Request
	if err := decode(r, &req); err != nil {
		fail(err)
		return
	}
	feedback, err := s.cfg.Grader.Evaluate(r.Context(), req)
	if err != nil {
		fail(err)
		return
	}
	writeJSON(w, http.StatusOK, evaluation.Response{Feedback: feedback})
}

type messageResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *server) storeExamResult(w http.ResponseWriter, r *http.Request) {
	fail := func(err error) {
		observe.Logger(r.Context()).Error("api: store exam result", "err", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Error: err.Error()})
	}
	if s.cfg.Results == nil {
		fail(errors.New("result storage is not configured on this server"))
		return
	}
	var res evaluation.Result
	if err := decode(r, &res); err != nil {
		fail(err)
		return
	}
	if res.StudentName == "" || res.Subject == "" {
		fail(errors.New("student_name and subject are required"))
		return
	}
	if err := s.cfg.Results.Save(r.Context(), res); err != nil {
		fail(err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Exam result stored successfully"})
}

type keywordsRequest struct {
	Text *string `json:"text"`
}

type keywordsResponse struct {
	Keywords []string `json:"keywords"`
}

func (s *server) extractKeywords(w http.ResponseWriter, r *http.Request) {
	var req keywordsRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, messageResponse{Error: err.Error()})
		return
	}
	if req.Text == nil {
		writeJSON(w, http.StatusInternalServerError, messageResponse{Error: "text is required"})
		return
	}
	kws := keywords.Extract(*req.Text)
	if kws == nil {
		kws = []string{}
	}
	writeJSON(w, http.StatusOK, keywordsResponse{Keywords: kws})
}

func (s *server) listExamResults(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Results == nil {
		writeJSON(w, http.StatusNotFound, messageResponse{Error: "result storage is not configured"})
		return
	}
	opts := results.ListOptions{StudentName: r.URL.Query().Get("student_name")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, messageResponse{Error: "limit must be a non-negative integer"})
			return
		}
		opts.Limit = n
	}
	recs, err := s.cfg.Results.List(r.Context(), opts)
	if err != nil {
		observe.Logger(r.Context()).Error("api: list exam results", "err", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []results.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// ── Sessions ──────────────────────────────────────────────────────────────────

type sessionsResponse struct {
	Sessions []string `json:"sessions"`
}

func (s *server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Snapshots == nil {
		writeJSON(w, http.StatusOK, sessionsResponse{Sessions: []string{}})
		return
	}
	ids, err := s.cfg.Snapshots.List(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("api: list sessions", "err", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Error: err.Error()})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: ids})
}

func (s *server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.cfg.Snapshots == nil {
		writeJSON(w, http.StatusNotFound, messageResponse{Error: "session not found"})
		return
	}
	snap, err := s.cfg.Snapshots.Get(r.Context(), id)
	switch {
	case errors.Is(err, sessionstore.ErrNotFound):
		writeJSON(w, http.StatusNotFound, messageResponse{Error: "session not found"})
	case err != nil:
		observe.Logger(r.Context()).Error("api: get session", "session_id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *server) quitSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.cfg.Live == nil {
		writeJSON(w, http.StatusNotFound, messageResponse{Error: "session not live"})
		return
	}
	if err := s.cfg.Live.Quit(id); err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, messageResponse{Error: "session not live"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, messageResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "quit requested"})
}

func (s *server) serveHost(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Live == nil {
		http.Error(w, "sessions are not served here", http.StatusNotFound)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		// Accept has already written the response.
		observe.Logger(r.Context()).Warn("api: websocket accept", "err", err)
		return
	}
	if err := s.cfg.Live.Serve(r.Context(), ws); err != nil {
		observe.Logger(r.Context()).Warn("api: host session", "err", err)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}
