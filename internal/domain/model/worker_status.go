package model

import "time"

type WorkerState string

const (
	WorkerIdle    WorkerState = "idle"
	WorkerBusy    WorkerState = "busy"
	WorkerOffline WorkerState = "offline"
)

// WorkerStatus is the persisted health/stat row for one worker instance.
// No two live workers share a WorkerID (fenced with a redis lock on
// registration).
type WorkerStatus struct {
	WorkerID            string
	State               WorkerState
	LastHeartbeat       time.Time
	JobsProcessed       int64
	JobsFailed          int64
	AverageProcessingMs int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func NewWorkerStatus(workerID string) *WorkerStatus {
	now := time.Now()
	return &WorkerStatus{
		WorkerID:      workerID,
		State:         WorkerBusy,
		LastHeartbeat: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// RecordBatch folds one batch into the cumulative stats. The running
// average weighs previous jobs by their count.
func (w *WorkerStatus) RecordBatch(processed, failed int, elapsed time.Duration) {
	prev := w.JobsProcessed + w.JobsFailed
	total := prev + int64(processed) + int64(failed)
	if total > 0 {
		batchMs := elapsed.Milliseconds()
		w.AverageProcessingMs = (w.AverageProcessingMs*prev + batchMs) / total
	}
	w.JobsProcessed += int64(processed)
	w.JobsFailed += int64(failed)
	w.LastHeartbeat = time.Now()
	w.UpdatedAt = w.LastHeartbeat
}
