package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ai-chat-pipeline/internal/domain"
	"ai-chat-pipeline/internal/domain/model"
	"ai-chat-pipeline/internal/infra/realtime"
	"ai-chat-pipeline/internal/infra/worker"
	"ai-chat-pipeline/internal/usecase"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

type mintTokenRequest struct {
	SessionID string `json:"session_id"`
}

// handleMintToken exchanges the shared fallback token for a session JWT.
func (s *Server) handleMintToken(w http.ResponseWriter, r *http.Request) {
	if !s.dev {
		if _, err := s.auth.Authenticate(r); err != nil {
			writeError(w, err)
			return
		}
	}
	var req mintTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, domain.E(domain.KindValidation, "session_id is required"))
		return
	}
	token, err := s.auth.Mint(req.SessionID)
	if err != nil {
		writeError(w, domain.Wrap(domain.KindInternal, "token mint failed", err))
		return
	}
	writeData(w, http.StatusOK, map[string]string{"token": token, "session_id": req.SessionID})
}

type submitRequest struct {
	SessionID string                   `json:"session_id"`
	Message   string                   `json:"message"`
	FieldID   string                   `json:"field_id,omitempty"`
	Model     string                   `json:"model,omitempty"`
	History   []usecase.HistoryMessage `json:"conversation_history,omitempty"`
}

// handleSubmit enqueues the question, then streams the completion back as
// SSE: chunk events while generating, one done (or error) event at the end.
// The job is claimed and executed inline when possible; if a background
// worker won the claim race the handler waits on the job's status instead.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.E(domain.KindValidation, "invalid request body"))
		return
	}

	receipt, err := s.chat.Submit(r.Context(), usecase.SubmitRequest{
		SessionID: req.SessionID,
		Message:   req.Message,
		FieldID:   req.FieldID,
		Model:     req.Model,
		History:   req.History,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	sw, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	job, err := s.queue.ClaimByID(ctx, s.runner.WorkerID(), receipt.JobID, s.lease)
	if err == nil {
		if execErr := s.runner.ExecuteClaimed(ctx, job, sw.chunk); execErr != nil {
			sw.fail(execErr)
			return
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		sw.fail(err)
		return
	} else if waitErr := s.awaitTerminal(ctx, receipt.JobID); waitErr != nil {
		sw.fail(waitErr)
		return
	}

	view, err := s.chat.JobStatus(ctx, receipt.JobID)
	if err != nil {
		sw.fail(err)
		return
	}
	if view.Status != model.ChatJobStatusCompleted || view.Result == nil {
		sw.fail(domain.E(domain.KindProvider, firstNonEmpty(view.Error, "completion failed")))
		return
	}
	sw.done(receipt.JobID, view.Result.Response, view.Result.TokensUsed, view.Result.Model)
}

// awaitTerminal polls the job until a background worker finishes it.
func (s *Server) awaitTerminal(ctx context.Context, jobID string) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(60 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return domain.E(domain.KindInternal, "timed out waiting for completion")
		case <-ticker.C:
			job, err := s.queue.FindByID(ctx, nil, jobID)
			if err != nil {
				return err
			}
			if job.Terminal() {
				return nil
			}
		}
	}
}

// handleEvents streams the session's realtime notifications as SSE frames.
// The stream lives until the client disconnects, the notifier gives up
// reconnecting, or the feed closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.changes == nil {
		writeError(w, domain.E(domain.KindInternal, "realtime feed not configured"))
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, domain.E(domain.KindValidation, "session_id is required"))
		return
	}

	notifier := realtime.NewNotifier(s.changes, sessionID, s.log)
	events, err := notifier.Start(r.Context())
	if err != nil {
		writeError(w, domain.Wrap(domain.KindInternal, "subscription failed", err))
		return
	}
	defer notifier.Close()

	sw, err := newSSEWriter(w)
	if err != nil {
		return
	}
	for ev := range events {
		sw.send(ev)
	}
}

type statusRequest struct {
	JobID     string `json:"job_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// handleStatus serves one job's status by job_id, or a session listing with
// aggregate stats by session_id.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.JobID = q.Get("job_id")
		req.SessionID = q.Get("session_id")
		req.Limit, _ = strconv.Atoi(q.Get("limit"))
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.E(domain.KindValidation, "invalid request body"))
		return
	}

	switch {
	case req.JobID != "":
		view, err := s.chat.JobStatus(r.Context(), req.JobID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, view)
	case req.SessionID != "":
		view, err := s.chat.ListSessionJobs(r.Context(), req.SessionID, req.Limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, view)
	default:
		writeError(w, domain.E(domain.KindValidation, "job_id or session_id is required"))
	}
}

type processRequest struct {
	JobID     string `json:"job_id,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
	WorkerID  string `json:"worker_id,omitempty"`
}

type processResponse struct {
	JobsProcessed    int    `json:"jobs_processed"`
	JobsFailed       int    `json:"jobs_failed"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	NextJobAvailable bool   `json:"next_job_available"`
	WorkerID         string `json:"worker_id"`
}

// handleProcess runs one named job or one batch in the request's lifetime.
// Either way the run goes through the full worker lifecycle, so a worker
// row is registered, updated with stats, and marked offline.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.E(domain.KindValidation, "invalid request body"))
		return
	}
	ctx := r.Context()
	run := s.runner.WithWorkerID(req.WorkerID)

	if req.JobID != "" {
		res, err := run.ProcessByID(ctx, req.JobID)
		if err != nil {
			writeRunError(w, err)
			return
		}
		writeData(w, http.StatusOK, batchResponse(res, run.WorkerID()))
		return
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = s.batchSize
	}
	res, err := run.RunOnce(ctx, batchSize, nil)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeData(w, http.StatusOK, batchResponse(res, run.WorkerID()))
}

type workerRunRequest struct {
	BatchSize     int      `json:"batch_size,omitempty"`
	JobTypes      []string `json:"job_types,omitempty"`
	Continuous    bool     `json:"continuous,omitempty"`
	MaxDurationMs int64    `json:"max_duration_ms,omitempty"`
	WorkerID      string   `json:"worker_id,omitempty"`
}

// handleWorkerRun drives the worker loop from the edge: one batch under the
// full worker lifecycle, or a continuous run bounded by a duration budget.
// worker_id overrides the server runner's identity.
func (s *Server) handleWorkerRun(w http.ResponseWriter, r *http.Request) {
	var req workerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.E(domain.KindValidation, "invalid request body"))
		return
	}
	ctx := r.Context()

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	if req.Continuous {
		// The shared runner keeps its re-entrancy guard; a custom id runs on
		// its own identity, fenced only by the worker lock.
		run := s.runner
		if req.WorkerID != "" && req.WorkerID != s.runner.WorkerID() {
			run = s.runner.WithWorkerID(req.WorkerID)
		}
		budget := s.maxRunDuration
		if req.MaxDurationMs > 0 {
			budget = time.Duration(req.MaxDurationMs) * time.Millisecond
		}
		start := time.Now()
		if err := run.RunContinuous(ctx, batchSize, budget); err != nil {
			writeRunError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"worker_id":  run.WorkerID(),
			"ran_for_ms": time.Since(start).Milliseconds(),
		})
		return
	}

	run := s.runner.WithWorkerID(req.WorkerID)
	res, err := run.RunOnce(ctx, batchSize, req.JobTypes)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeData(w, http.StatusOK, batchResponse(res, run.WorkerID()))
}

func batchResponse(res worker.BatchResult, workerID string) processResponse {
	return processResponse{
		JobsProcessed:    res.Processed,
		JobsFailed:       res.Failed,
		ProcessingTimeMs: res.Elapsed.Milliseconds(),
		NextJobAvailable: res.NextJobAvailable,
		WorkerID:         workerID,
	}
}

// writeRunError maps a busy worker id onto the rate-limited kind; other
// errors pass through the taxonomy untouched.
func writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrWorkerBusy) {
		writeError(w, domain.Wrap(domain.KindRateLimited, "worker already running", err))
		return
	}
	writeError(w, err)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
