package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/agent"
	"github.com/PipeOpsHQ/vnc-use-go/credentials"
	"github.com/PipeOpsHQ/vnc-use-go/desktop"
	"github.com/PipeOpsHQ/vnc-use-go/state"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

// RunRequest asks for one task on one desktop. Either Server or Hostname
// names the desktop; Hostname is looked up in the credential store.
type RunRequest struct {
	Task            string   `json:"task"`
	Server          string   `json:"server,omitempty"`
	Password        string   `json:"password,omitempty"`
	Hostname        string   `json:"hostname,omitempty"`
	StepLimit       int      `json:"stepLimit,omitempty"`
	TimeoutSeconds  int      `json:"timeoutSeconds,omitempty"`
	HITL            *bool    `json:"hitl,omitempty"`
	ExcludedActions []string `json:"excludedActions,omitempty"`
}

type RunResponse struct {
	Success       bool             `json:"success"`
	RunID         string           `json:"runId,omitempty"`
	Status        types.RunStatus  `json:"status,omitempty"`
	RunDir        string           `json:"runDir,omitempty"`
	Steps         int              `json:"steps"`
	Error         string           `json:"error,omitempty"`
	ActionHistory []string         `json:"actionHistory,omitempty"`
	Interrupt     *types.Interrupt `json:"interrupt,omitempty"`
	Usage         *types.Usage     `json:"usage,omitempty"`
}

type ResumeRequest struct {
	Decision string `json:"decision"`
}

func responseFrom(result types.RunResult) RunResponse {
	return RunResponse{
		Success:       result.Success,
		RunID:         result.RunID,
		Status:        result.Status,
		RunDir:        result.RunDir,
		Steps:         result.Steps,
		Error:         result.Error,
		ActionHistory: result.ActionHistory,
		Interrupt:     result.Interrupt,
		Usage:         result.Usage,
	}
}

func responseFromRecord(rec state.RunRecord) RunResponse {
	return RunResponse{
		Success:       rec.Success,
		RunID:         rec.RunID,
		Status:        types.RunStatus(rec.Status),
		RunDir:        rec.RunDir,
		Steps:         rec.Step,
		Error:         rec.Error,
		ActionHistory: rec.ActionHistory,
		Interrupt:     rec.Interrupt,
		Usage:         rec.Usage,
	}
}

func (s *Server) resolveTarget(ctx context.Context, req RunRequest) (desktop.Target, error) {
	if strings.TrimSpace(req.Server) != "" {
		return desktop.Target{Address: strings.TrimSpace(req.Server), Password: req.Password}, nil
	}
	creds, err := s.cfg.Credentials.Get(ctx, strings.TrimSpace(req.Hostname))
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			if req.Hostname == "" {
				return desktop.Target{}, errors.New("server or hostname is required")
			}
			return desktop.Target{}, fmt.Errorf("no credentials stored for %s", req.Hostname)
		}
		return desktop.Target{}, err
	}
	password := creds.Password
	if req.Password != "" {
		password = req.Password
	}
	return desktop.Target{Address: creds.Server, Password: password}, nil
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, RunResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		writeJSON(w, http.StatusBadRequest, RunResponse{Error: "task is required"})
		return
	}
	target, err := s.resolveTarget(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, RunResponse{Error: err.Error()})
		return
	}
	if !s.sem.TryAcquire(1) {
		writeJSON(w, http.StatusTooManyRequests, RunResponse{Error: "too many tasks running"})
		return
	}

	runID := uuid.NewString()
	async := r.URL.Query().Get("async") == "true"
	ctx := r.Context()
	if async {
		ctx = s.base
	}
	session, err := s.cfg.Sessions(ctx, req, target, s.hub)
	if err != nil {
		s.sem.Release(1)
		writeJSON(w, http.StatusInternalServerError, RunResponse{RunID: runID, Error: "failed to set up session: " + err.Error()})
		return
	}
	log := s.logger.With(zap.String("run_id", runID))
	log.Info("task accepted", zap.String("server", target.Address), zap.Bool("async", async))

	if async {
		s.inflight.Add(1)
		s.remember(RunResponse{RunID: runID, Status: types.RunStatusRunning})
		go func() {
			defer s.inflight.Done()
			defer s.sem.Release(1)
			s.execute(s.base, session, runID, req.Task)
		}()
		writeJSON(w, http.StatusAccepted, RunResponse{RunID: runID, Status: types.RunStatusRunning})
		return
	}
	defer s.sem.Release(1)
	writeJSON(w, http.StatusOK, s.execute(ctx, session, runID, req.Task))
}

func (s *Server) execute(ctx context.Context, session *agent.Session, runID, task string) RunResponse {
	result, err := session.Run(ctx, task, agent.WithRunID(runID))
	return s.settle(session, runID, result, err)
}

// settle turns a run outcome into a response and keeps suspended sessions
// for a later resume.
func (s *Server) settle(session *agent.Session, runID string, result types.RunResult, err error) RunResponse {
	resp := responseFrom(result)
	if resp.RunID == "" {
		resp.RunID = runID
	}
	if err != nil {
		if resp.Error == "" {
			resp.Error = err.Error()
		}
		resp.Success = false
		if resp.Status == "" {
			resp.Status = types.RunStatusFailed
		}
		s.logger.Warn("task failed", zap.String("run_id", runID), zap.Error(err))
	}
	if resp.Status == types.RunStatusAwaitingApproval {
		s.mu.Lock()
		s.suspended[runID] = session
		s.mu.Unlock()
	}
	s.remember(resp)
	return resp
}

func (s *Server) remember(resp RunResponse) {
	s.mu.Lock()
	s.results[resp.RunID] = resp
	s.mu.Unlock()
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	var req ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, RunResponse{RunID: runID, Error: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Decision) == "" {
		writeJSON(w, http.StatusBadRequest, RunResponse{RunID: runID, Error: "decision is required"})
		return
	}

	s.mu.Lock()
	session, ok := s.suspended[runID]
	delete(s.suspended, runID)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, RunResponse{RunID: runID, Error: fmt.Sprintf("%v: %s", agent.ErrNoPendingApproval, runID)})
		return
	}
	if !s.sem.TryAcquire(1) {
		s.mu.Lock()
		s.suspended[runID] = session
		s.mu.Unlock()
		writeJSON(w, http.StatusTooManyRequests, RunResponse{RunID: runID, Error: "too many tasks running"})
		return
	}
	defer s.sem.Release(1)

	s.logger.Info("resuming run", zap.String("run_id", runID), zap.String("decision", req.Decision))
	result, err := session.Resume(r.Context(), runID, req.Decision)
	if errors.Is(err, agent.ErrNoPendingApproval) {
		writeJSON(w, http.StatusConflict, RunResponse{RunID: runID, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.settle(session, runID, result, err))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	s.mu.Lock()
	resp, ok := s.results[runID]
	s.mu.Unlock()
	if ok {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if s.cfg.Store == nil {
		writeJSON(w, http.StatusNotFound, RunResponse{RunID: runID, Error: "run not found"})
		return
	}
	rec, err := s.cfg.Store.LoadRun(r.Context(), runID)
	if errors.Is(err, state.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, RunResponse{RunID: runID, Error: "run not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, RunResponse{RunID: runID, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, responseFromRecord(rec))
}

type runSummary struct {
	RunID     string     `json:"runId"`
	Task      string     `json:"task,omitempty"`
	Status    string     `json:"status"`
	Provider  string     `json:"provider,omitempty"`
	Steps     int        `json:"steps"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	q := r.URL.Query()
	status := q.Get("status")

	var out []runSummary
	if s.cfg.Store != nil {
		records, err := s.cfg.Store.ListRuns(r.Context(), state.ListRunsQuery{
			Limit:    limit,
			Status:   status,
			Provider: q.Get("provider"),
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		for _, rec := range records {
			out = append(out, runSummary{RunID: rec.RunID, Task: rec.Task, Status: rec.Status, Provider: rec.Provider, Steps: rec.Step, UpdatedAt: rec.UpdatedAt})
		}
	} else {
		s.mu.Lock()
		for _, resp := range s.results {
			if status != "" && string(resp.Status) != status {
				continue
			}
			out = append(out, runSummary{RunID: resp.RunID, Status: string(resp.Status), Steps: resp.Steps})
		}
		s.mu.Unlock()
		sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
		if len(out) > limit {
			out = out[:limit]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
