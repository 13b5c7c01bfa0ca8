package queue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer is the part of *asynq.Client the producer needs.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func NewOrchestrateTask(payload OrchestratePayload) (*asynq.Task, error) {
	if payload.AccountID == "" {
		return nil, errors.New("orchestrate task needs an account id")
	}
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeOrchestrateAccount, taskPayload, asynq.MaxRetry(0)), nil
}

// EnqueueOrchestrate schedules one account run after delay. Retries stay
// inside the run itself, so the task is not retried by the queue.
func EnqueueOrchestrate(client Enqueuer, payload OrchestratePayload, delay time.Duration) (*asynq.TaskInfo, error) {
	task, err := NewOrchestrateTask(payload)
	if err != nil {
		return nil, err
	}
	return client.Enqueue(task, asynq.ProcessIn(delay))
}
