// Package server is the HTTP status surface of the daemon: state snapshots,
// recommendations, ingestion endpoints for camera frames, navigation events
// and step readings, a WebSocket update stream, metrics and health probes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/moodsense/internal/aggregator"
	"github.com/MrWong99/moodsense/internal/health"
	"github.com/MrWong99/moodsense/internal/motion"
	"github.com/MrWong99/moodsense/internal/observe"
	"github.com/MrWong99/moodsense/internal/webwatch"
	"github.com/MrWong99/moodsense/pkg/classifier"
	"github.com/MrWong99/moodsense/pkg/emotion"
)

const (
	maxFrameBytes = 10 << 20
	maxEventBytes = 64 << 10
	writeTimeout  = 5 * time.Second
)

// State is the aggregator surface the server reads.
type State interface {
	Snapshot() aggregator.CombinedState
	Recommendations() (aggregator.Advice, bool)
	Apply(ctx context.Context, obs emotion.Observation) aggregator.CombinedState
	Subscribe(ctx context.Context, buffer int) (<-chan aggregator.Update, func())
}

var _ State = (*aggregator.Aggregator)(nil)

// Navigation accepts navigation events. [*webwatch.Watcher] satisfies it.
type Navigation interface {
	Handle(ctx context.Context, ev webwatch.Event)
}

// Steps accepts raw step counter readings. [*motion.Tracker] satisfies it.
type Steps interface {
	OnCounter(raw int64)
}

// Deps are the collaborators of the server. Nil Navigation, Steps or
// Classifier disable the matching ingestion endpoint with 503.
type Deps struct {
	State      State
	Classifier classifier.Classifier
	Navigation Navigation
	Steps      Steps
	Health     *health.Handler
	Metrics    *observe.Metrics

	// MetricsHandler serves /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler

	// Now stamps video observations. Defaults to time.Now.
	Now func() time.Time
}

// Server routes the status API.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// New returns a server with all routes registered.
func New(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	if s.deps.MetricsHandler == nil {
		s.deps.MetricsHandler = promhttp.Handler()
	}
	if s.deps.Health == nil {
		s.deps.Health = health.New()
	}
	if s.deps.Now == nil {
		s.deps.Now = time.Now
	}

	s.mux.HandleFunc("GET /v1/state", s.handleState)
	s.mux.HandleFunc("GET /v1/recommendations", s.handleRecommendations)
	s.mux.HandleFunc("POST /v1/frames", s.handleFrame)
	s.mux.HandleFunc("POST /v1/navigation", s.handleNavigation)
	s.mux.HandleFunc("POST /v1/steps", s.handleSteps)
	s.mux.HandleFunc("GET /v1/stream", s.handleStream)
	s.mux.Handle("GET /metrics", s.deps.MetricsHandler)
	s.deps.Health.Register(s.mux)
	return s
}

// Handler returns the root handler wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	if s.deps.Metrics == nil {
		return s.mux
	}
	return observe.Middleware(s.deps.Metrics)(s.mux)
}

type stateResponse struct {
	State aggregator.CombinedState `json:"state"`
	Line  string                   `json:"line"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.State.Snapshot()
	writeJSON(w, http.StatusOK, stateResponse{State: snap, Line: snap.DisplayLine()})
}

type recommendationsResponse struct {
	Mood            string `json:"mood"`
	Stage           string `json:"stage,omitempty"`
	Message         string `json:"message"`
	Recommendations any    `json:"recommendations"`
	UpdatedAt       string `json:"updated_at"`
}

func (s *Server) handleRecommendations(w http.ResponseWriter, _ *http.Request) {
	adv, ok := s.deps.State.Recommendations()
	if !ok {
		writeError(w, http.StatusNotFound, "no recommendations yet")
		return
	}
	writeJSON(w, http.StatusOK, recommendationsResponse{
		Mood:            adv.Mood,
		Stage:           adv.Stage,
		Message:         adv.Response.Message,
		Recommendations: adv.Response.Recommendations,
		UpdatedAt:       adv.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// handleFrame classifies one camera frame and applies it as the video
// emotion. The request body is the encoded image.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if s.deps.Classifier == nil {
		writeError(w, http.StatusServiceUnavailable, "no classifier configured")
		return
	}
	img, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if len(img) == 0 {
		writeError(w, http.StatusBadRequest, "empty frame")
		return
	}

	ctx, call := observe.StartClassification(r.Context(), s.deps.Metrics, "image")
	label, err := s.deps.Classifier.ClassifyImage(ctx, img)
	call.End(label, err)
	if err != nil {
		observe.Logger(ctx).Warn("image classification failed", "err", err)
		writeError(w, http.StatusBadGateway, "classification failed")
		return
	}

	s.deps.State.Apply(ctx, emotion.New(emotion.SourceVideo, label, s.deps.Now()))
	writeJSON(w, http.StatusOK, map[string]string{"emotion": label})
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Navigation == nil {
		writeError(w, http.StatusServiceUnavailable, "web watcher disabled")
		return
	}
	var ev webwatch.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event: "+err.Error())
		return
	}
	s.deps.Navigation.Handle(r.Context(), ev)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request) {
	if s.deps.Steps == nil {
		writeError(w, http.StatusServiceUnavailable, "motion tracker disabled")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	n, err := motion.ParseReading(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reading: "+err.Error())
		return
	}
	s.deps.Steps.OnCounter(n)
	w.WriteHeader(http.StatusAccepted)
}

type streamMessage struct {
	State aggregator.CombinedState `json:"state"`
	Line  string                   `json:"line"`
	Error string                   `json:"error,omitempty"`
}

// handleStream upgrades to a WebSocket and forwards every state update as a
// JSON text message until either side goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("stream: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	updates, cancel := s.deps.State.Subscribe(ctx, 8)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case u, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			msg := streamMessage{State: u.State, Line: u.Line}
			if u.Err != nil {
				msg.Error = u.Err.Error()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				slog.Warn("stream: marshal failed", "err", err)
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Debug("stream: write failed", "err", err)
				}
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
