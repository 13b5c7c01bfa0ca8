package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockOrchestrator struct {
	mock.Mock
}

func (m *mockOrchestrator) RunAccount(ctx context.Context, id string, opts service.RunOptions) (models.PostRecord, error) {
	args := m.Called(ctx, id, opts)
	return args.Get(0).(models.PostRecord), args.Error(1)
}

func (m *mockOrchestrator) RunAll(ctx context.Context, opts service.RunOptions) (service.Summary, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(service.Summary), args.Error(1)
}

type lockRunner struct {
	calls int
}

func (r *lockRunner) RunManual(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls++
	return fn(ctx)
}

type captureEnqueuer struct {
	task *asynq.Task
	opts []asynq.Option
}

func (c *captureEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.task, c.opts = task, opts
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

func newTestQueue(orch service.OrchestratorService, runner Runner) *Queue {
	logger, _ := test.NewNullLogger()
	return NewQueue(orch, runner, logrus.NewEntry(logger))
}

func TestEnqueueOrchestrate(t *testing.T) {
	client := &captureEnqueuer{}
	info, err := EnqueueOrchestrate(client, OrchestratePayload{AccountID: "A1", Test: true}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeOrchestrateAccount, info.Type)

	var payload OrchestratePayload
	require.NoError(t, json.Unmarshal(client.task.Payload(), &payload))
	assert.Equal(t, OrchestratePayload{AccountID: "A1", Test: true}, payload)
	assert.Len(t, client.opts, 1)

	_, err = EnqueueOrchestrate(client, OrchestratePayload{}, 0)
	assert.Error(t, err)
}

func TestHandleOrchestrateTask(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("RunAccount", mock.Anything, "A1", service.RunOptions{Test: true}).
		Return(models.PostRecord{ID: "r1", Outcome: models.OutcomeSkipped}, nil).Once()
	runner := &lockRunner{}

	task, err := NewOrchestrateTask(OrchestratePayload{AccountID: "A1", Test: true})
	require.NoError(t, err)

	require.NoError(t, newTestQueue(orch, runner).HandleOrchestrateTask(context.Background(), task))
	assert.Equal(t, 1, runner.calls)
	orch.AssertExpectations(t)
}

func TestHandleOrchestrateTaskFailureSkipsRetry(t *testing.T) {
	orch := &mockOrchestrator{}
	orch.On("RunAccount", mock.Anything, "A1", service.RunOptions{}).
		Return(models.PostRecord{ID: "r1", Outcome: models.OutcomeFailed}, errors.New("create rejected"))

	task, err := NewOrchestrateTask(OrchestratePayload{AccountID: "A1"})
	require.NoError(t, err)

	err = newTestQueue(orch, &lockRunner{}).HandleOrchestrateTask(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = newTestQueue(orch, &lockRunner{}).HandleOrchestrateTask(context.Background(),
		asynq.NewTask(TaskTypeOrchestrateAccount, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
