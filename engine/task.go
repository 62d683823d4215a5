package engine

import (
	"time"

	"harvester/engine/checker"
)

// Task is one checker dispatch handed to an external runner over the queue.
type Task struct {
	BatchID  string    `json:"batch_id"`
	Codes    []string  `json:"codes"`
	URL      string    `json:"url"`
	Protocol string    `json:"protocol"`
	Token    string    `json:"token"`
	Deadline time.Time `json:"deadline"`
}

// TaskResult carries the checker's verdicts (or the dispatch failure) back
// from a runner.
type TaskResult struct {
	BatchID   string             `json:"batch_id"`
	Responses []checker.Response `json:"responses,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// ResultQueue is the queue key a runner pushes a batch result onto.
func ResultQueue(batchID string) string {
	return "results:" + batchID
}
