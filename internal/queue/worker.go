package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/threadpost/internal/service"
	"github.com/sirupsen/logrus"
)

func (q *Queue) HandleOrchestrateTask(ctx context.Context, task *asynq.Task) error {
	var payload OrchestratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskTypeOrchestrateAccount, err, asynq.SkipRetry)
	}

	err := q.runner.RunManual(ctx, func(ctx context.Context) error {
		rec, err := q.orch.RunAccount(ctx, payload.AccountID, service.RunOptions{Test: payload.Test})
		q.log.WithFields(logrus.Fields{
			"account_id": payload.AccountID,
			"record_id":  rec.ID,
			"outcome":    rec.Outcome,
			"test":       payload.Test,
		}).Info("queued run finished")
		return err
	})
	if err != nil {
		// the attempt is recorded in post history; a redelivery would double post
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// NewServeMux routes queue tasks to q.
func (q *Queue) NewServeMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeOrchestrateAccount, q.HandleOrchestrateTask)
	return mux
}
