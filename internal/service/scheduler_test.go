package service

import (
	"context"
	"testing"
	"time"

	"github.com/donorflow/donorflow/internal/domain"
	"github.com/donorflow/donorflow/internal/domain/mocks"
	"github.com/donorflow/donorflow/pkg/logger"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSchedulerFixture(t *testing.T, ctrl *gomock.Controller, defs ...*domain.AutomationDefinition) (*DelayScheduler, *runnerFixture) {
	t.Helper()

	f := newRunnerFixture(t, ctrl, defs...)
	audience := mocks.NewMockAudienceSource(ctrl)
	triggers := NewTriggerEvaluator(f.runner.registry, f.runner, NewConditionEvaluator(), audience, logger.NewNoopLogger())

	scheduler := NewDelayScheduler(f.execRepo, f.runner, triggers, logger.NewNoopLogger(), SchedulerConfig{
		Interval:  time.Hour,
		BatchSize: 10,
		Workers:   2,
	})
	return scheduler, f
}

func TestDelayScheduler_ProcessDueRunsClaimedExecutions(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	def := testDefinition("auto-1")
	scheduler, f := newSchedulerFixture(t, ctrl, def)

	due := newScheduledExecution(def)
	due.Status = domain.ExecutionStatusRunning

	gomock.InOrder(
		f.execRepo.EXPECT().ClaimDue(gomock.Any(), gomock.Any(), 10).
			Return([]*domain.Execution{due}, nil),
	)

	f.directory.EXPECT().GetProfile(gomock.Any(), "donor-1").Return(testProfile(), nil)
	f.admissions.EXPECT().TryAdmit(gomock.Any(), def, gomock.Any(), gomock.Any()).
		Return(domain.AdmissionDecision{Admitted: true}, nil)
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)

	var updated *domain.Execution
	f.execRepo.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e *domain.Execution) error {
			updated = e
			return nil
		})

	scheduler.processDue(context.Background())

	require.NotNil(t, updated)
	assert.Equal(t, domain.ExecutionStatusCompleted, updated.Status)
}

func TestDelayScheduler_ProcessDueStopsOnEmptyBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	scheduler, f := newSchedulerFixture(t, ctrl)

	f.execRepo.EXPECT().ClaimDue(gomock.Any(), gomock.Any(), 10).Return(nil, nil).Times(1)

	scheduler.processDue(context.Background())
}

func TestDelayScheduler_StartStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	scheduler, f := newSchedulerFixture(t, ctrl)

	f.execRepo.EXPECT().ClaimDue(gomock.Any(), gomock.Any(), 10).Return(nil, nil).AnyTimes()

	scheduler.Start(context.Background())
	// Starting twice is a logged no-op
	scheduler.Start(context.Background())

	time.Sleep(20 * time.Millisecond)
	scheduler.Stop()
}
