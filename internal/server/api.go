package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	apperrors "github.com/zsiec/lockstep/internal/errors"
	"github.com/zsiec/lockstep/internal/playback"
	lsync "github.com/zsiec/lockstep/internal/sync"
)

// SessionController is the engine surface the API drives. *sync.Engine
// satisfies it.
type SessionController interface {
	Snapshot(ctx context.Context) (lsync.SessionSnapshot, error)
	AddStream(ctx context.Context, identifier string, offsetMs int) (lsync.StreamStatus, error)
	RemoveStream(ctx context.Context, id string) (bool, error)
	SetIdentifier(ctx context.Context, id, identifier string) (bool, error)
	SetOffset(ctx context.Context, id string, ms int) (bool, error)
	AdjustOffset(ctx context.Context, id string, deltaMs int) (bool, error)
	Tap(ctx context.Context, id string) (bool, error)
	SetQuality(ctx context.Context, id, quality string) (bool, error)
	PlayAll(ctx context.Context) error
	PauseAll(ctx context.Context) error
	Step(ctx context.Context, delta float64) error
	SetThreshold(ctx context.Context, ms int) (int, error)
	AdjustThreshold(ctx context.Context, deltaMs int) (int, error)
	Export(ctx context.Context) ([]lsync.StreamSpec, error)
}

type addStreamRequest struct {
	Identifier string `json:"identifier"`
	OffsetMs   int    `json:"offset_ms"`
}

type identifierRequest struct {
	Identifier string `json:"identifier"`
}

type offsetRequest struct {
	OffsetMs *int `json:"offset_ms"`
}

type deltaMsRequest struct {
	DeltaMs *int `json:"delta_ms"`
}

type qualityRequest struct {
	Quality string `json:"quality"`
}

type stepRequest struct {
	Delta *float64 `json:"delta"`
}

type thresholdRequest struct {
	Ms *int `json:"ms"`
}

type thresholdResponse struct {
	ThresholdMs int `json:"threshold_ms"`
}

type exportResponse struct {
	Streams []lsync.StreamSpec `json:"streams"`
	Query   string             `json:"query"`
}

func (s *Server) registerAPI(api *mux.Router) {
	api.HandleFunc("/session", s.handleSession).Methods("GET")
	api.HandleFunc("/streams", s.handleAddStream).Methods("POST")
	api.HandleFunc("/streams/{id}", s.handleRemoveStream).Methods("DELETE")
	api.HandleFunc("/streams/{id}/identifier", s.handleSetIdentifier).Methods("PUT")
	api.HandleFunc("/streams/{id}/offset", s.handleSetOffset).Methods("PUT")
	api.HandleFunc("/streams/{id}/offset/adjust", s.handleAdjustOffset).Methods("POST")
	api.HandleFunc("/streams/{id}/tap", s.handleTap).Methods("POST")
	api.HandleFunc("/streams/{id}/quality", s.handleSetQuality).Methods("PUT")
	api.HandleFunc("/play", s.handlePlay).Methods("POST")
	api.HandleFunc("/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/step", s.handleStep).Methods("POST")
	api.HandleFunc("/threshold", s.handleSetThreshold).Methods("PUT")
	api.HandleFunc("/threshold/adjust", s.handleAdjustThreshold).Methods("POST")
	api.HandleFunc("/export", s.handleExport).Methods("GET")
}

// engineError maps engine failures onto the API error taxonomy.
func engineError(err error) error {
	switch {
	case errors.Is(err, lsync.ErrEngineStopped):
		return apperrors.NewServiceDownError("sync engine")
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.WrapTimeoutError(err, "sync engine did not respond in time")
	default:
		return apperrors.WrapInternalError(err, "sync engine request failed")
	}
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.NewValidationError("invalid request body: " + err.Error())
	}
	return nil
}

// validIdentifier accepts the empty string, which leaves a stream unloaded.
func validIdentifier(identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier != "" && playback.ExtractVideoID(identifier) == "" {
		return apperrors.NewValidationError("identifier is not a video id or a recognised video URL")
	}
	return nil
}

// respondSession writes the current snapshot, which every mutating endpoint
// returns so clients never need a second round trip.
func (s *Server) respondSession(w http.ResponseWriter, r *http.Request, status int) {
	snap, err := s.engine.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, engineError(err))
		return
	}
	s.writeJSON(w, status, snap)
}

// finish handles the (found, err) results of per-stream operations.
func (s *Server) finish(w http.ResponseWriter, r *http.Request, found bool, err error) {
	if err != nil {
		s.writeError(w, r, engineError(err))
		return
	}
	if !found {
		s.writeError(w, r, apperrors.NewNotFoundError("stream"))
		return
	}
	s.respondSession(w, r, http.StatusOK)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.respondSession(w, r, http.StatusOK)
}

func (s *Server) handleAddStream(w http.ResponseWriter, r *http.Request) {
	var req addStreamRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validIdentifier(req.Identifier); err != nil {
		s.writeError(w, r, err)
		return
	}

	st, err := s.engine.AddStream(r.Context(), strings.TrimSpace(req.Identifier), req.OffsetMs)
	if err != nil {
		s.writeError(w, r, engineError(err))
		return
	}
	s.writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleRemoveStream(w http.ResponseWriter, r *http.Request) {
	found, err := s.engine.RemoveStream(r.Context(), mux.Vars(r)["id"])
	s.finish(w, r, found, err)
}

func (s *Server) handleSetIdentifier(w http.ResponseWriter, r *http.Request) {
	var req identifierRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		s.writeError(w, r, apperrors.NewValidationError("identifier is required"))
		return
	}
	if err := validIdentifier(req.Identifier); err != nil {
		s.writeError(w, r, err)
		return
	}

	found, err := s.engine.SetIdentifier(r.Context(), mux.Vars(r)["id"], strings.TrimSpace(req.Identifier))
	s.finish(w, r, found, err)
}

func (s *Server) handleSetOffset(w http.ResponseWriter, r *http.Request) {
	var req offsetRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.OffsetMs == nil {
		s.writeError(w, r, apperrors.NewValidationError("offset_ms is required"))
		return
	}

	found, err := s.engine.SetOffset(r.Context(), mux.Vars(r)["id"], *req.OffsetMs)
	s.finish(w, r, found, err)
}

func (s *Server) handleAdjustOffset(w http.ResponseWriter, r *http.Request) {
	var req deltaMsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DeltaMs == nil {
		s.writeError(w, r, apperrors.NewValidationError("delta_ms is required"))
		return
	}

	found, err := s.engine.AdjustOffset(r.Context(), mux.Vars(r)["id"], *req.DeltaMs)
	s.finish(w, r, found, err)
}

func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	found, err := s.engine.Tap(r.Context(), mux.Vars(r)["id"])
	s.finish(w, r, found, err)
}

func (s *Server) handleSetQuality(w http.ResponseWriter, r *http.Request) {
	var req qualityRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Quality) == "" {
		s.writeError(w, r, apperrors.NewValidationError("quality is required"))
		return
	}

	found, err := s.engine.SetQuality(r.Context(), mux.Vars(r)["id"], strings.TrimSpace(req.Quality))
	s.finish(w, r, found, err)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.PlayAll(r.Context()); err != nil {
		s.writeError(w, r, engineError(err))
		return
	}
	s.respondSession(w, r, http.StatusOK)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.PauseAll(r.Context()); err != nil {
		s.writeError(w, r, engineError(err))
		return
	}
	s.respondSession(w, r, http.StatusOK)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Delta == nil || *req.Delta == 0 {
		s.writeError(w, r, apperrors.NewValidationError("delta must be a non-zero number of seconds"))
		return
	}

	if err := s.engine.Step(r.Context(), *req.Delta); err != nil {
		s.writeError(w, r, engineError(err))
		return
	}
	s.respondSession(w, r, http.StatusOK)
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Ms == nil {
		s.writeError(w, r, apperrors.NewValidationError("ms is required"))
		return
	}

	ms, err := s.engine.SetThreshold(r.Context(), *req.Ms)
	if err != nil {
		s.writeError(w, r, engineError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, thresholdResponse{ThresholdMs: ms})
}

func (s *Server) handleAdjustThreshold(w http.ResponseWriter, r *http.Request) {
	var req deltaMsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DeltaMs == nil {
		s.writeError(w, r, apperrors.NewValidationError("delta_ms is required"))
		return
	}

	ms, err := s.engine.AdjustThreshold(r.Context(), *req.DeltaMs)
	if err != nil {
		s.writeError(w, r, engineError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, thresholdResponse{ThresholdMs: ms})
}

// handleExport returns the stream list. With ?format=query only the share
// query string is written, as text/plain.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	specs, err := s.engine.Export(r.Context())
	if err != nil {
		s.writeError(w, r, engineError(err))
		return
	}
	query := lsync.EncodeShareQuery(specs)

	if r.URL.Query().Get("format") == "query" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, query+"\n")
		return
	}
	if specs == nil {
		specs = []lsync.StreamSpec{}
	}
	s.writeJSON(w, http.StatusOK, exportResponse{Streams: specs, Query: query})
}
