package queue

import (
	"context"

	"github.com/maheshrc27/threadpost/internal/service"
	"github.com/sirupsen/logrus"
)

// Runner serialises an orchestration pass with every other pass in the
// process. The schedule runner provides it.
type Runner interface {
	RunManual(ctx context.Context, fn func(ctx context.Context) error) error
}

type Queue struct {
	orch   service.OrchestratorService
	runner Runner
	log    *logrus.Entry
}

func NewQueue(orch service.OrchestratorService, runner Runner, log *logrus.Entry) *Queue {
	return &Queue{
		orch:   orch,
		runner: runner,
		log:    log,
	}
}

const TaskTypeOrchestrateAccount = "orchestrate:account"

type OrchestratePayload struct {
	AccountID string `json:"account_id"`
	Test      bool   `json:"test"`
}
