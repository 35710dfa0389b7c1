package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/donorflow/donorflow/internal/domain"
	"github.com/donorflow/donorflow/internal/domain/mocks"
	"github.com/donorflow/donorflow/pkg/logger"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type triggerFixture struct {
	triggers *TriggerEvaluator
	execRepo *mocks.MockExecutionRepository
	audience *mocks.MockAudienceSource
}

func newTriggerFixture(t *testing.T, ctrl *gomock.Controller, defs ...*domain.AutomationDefinition) *triggerFixture {
	t.Helper()

	registry, _ := loadedRegistry(t, ctrl, defs...)
	execRepo := mocks.NewMockExecutionRepository(ctrl)
	admissions := mocks.NewMockAdmissionStore(ctrl)
	directory := mocks.NewMockRecipientDirectory(ctrl)
	sender := mocks.NewMockMessageSender(ctrl)
	notifier := mocks.NewMockNotifier(ctrl)
	audience := mocks.NewMockAudienceSource(ctrl)

	dispatcher := NewDispatcher(sender, directory, notifier, logger.NewNoopLogger(),
		WithRetryPolicy(0, time.Millisecond))
	runner := NewRunner(registry, execRepo, admissions, directory, dispatcher,
		NewConditionEvaluator(), logger.NewNoopLogger(),
		WithClock(func() time.Time { return testNow }))

	triggers := NewTriggerEvaluator(registry, runner, NewConditionEvaluator(), audience, logger.NewNoopLogger())
	triggers.now = func() time.Time { return testNow }

	return &triggerFixture{triggers: triggers, execRepo: execRepo, audience: audience}
}

func TestTriggerEvaluator_OnEvent_FilterSelectsDefinitions(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	matching := testDefinition("auto-match")
	matching.DelayType = domain.DelayTypeRelativeToTrigger
	matching.DelayMinutes = 30
	matching.Trigger.Event.Filter = domain.ConditionList{
		{Field: "amount", Operator: domain.OperatorGte, Value: float64(100)},
	}

	nonMatching := testDefinition("auto-skip")
	nonMatching.DelayType = domain.DelayTypeRelativeToTrigger
	nonMatching.DelayMinutes = 30
	nonMatching.Trigger.Event.Filter = domain.ConditionList{
		{Field: "amount", Operator: domain.OperatorGte, Value: float64(1000)},
	}

	f := newTriggerFixture(t, ctrl, matching, nonMatching)

	var created []*domain.Execution
	f.execRepo.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e *domain.Execution) (bool, error) {
			created = append(created, e)
			return true, nil
		})

	f.triggers.OnEvent(context.Background(), testEvent("evt-1"))

	require.Len(t, created, 1)
	assert.Equal(t, "auto-match", created[0].AutomationID)
}

func TestTriggerEvaluator_OnEvent_InvalidEventDiscarded(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	def := testDefinition("auto-1")
	f := newTriggerFixture(t, ctrl, def)

	event := testEvent("evt-1")
	event.RecipientID = ""

	// No inserts expected
	f.triggers.OnEvent(context.Background(), event)
}

func TestTriggerEvaluator_OnEvent_FilterErrorIsolatedToDefinition(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	broken := testDefinition("auto-broken")
	broken.DelayType = domain.DelayTypeRelativeToTrigger
	broken.DelayMinutes = 30
	broken.Trigger.Event.Filter = domain.ConditionList{
		{Field: "amount", Operator: domain.OperatorIn, Value: "not-a-list"},
	}

	healthy := testDefinition("auto-healthy")
	healthy.DelayType = domain.DelayTypeRelativeToTrigger
	healthy.DelayMinutes = 30

	f := newTriggerFixture(t, ctrl, broken, healthy)

	var created []*domain.Execution
	f.execRepo.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e *domain.Execution) (bool, error) {
			created = append(created, e)
			return true, nil
		})

	f.triggers.OnEvent(context.Background(), testEvent("evt-1"))

	require.Len(t, created, 1)
	assert.Equal(t, "auto-healthy", created[0].AutomationID)
}

func scheduledDefinition(id string) *domain.AutomationDefinition {
	def := testDefinition(id)
	def.TriggerType = domain.TriggerTypeSchedule
	def.Trigger = &domain.TriggerConfig{
		Schedule: &domain.ScheduleTriggerConfig{
			Frequency:   domain.ScheduleFrequencyDaily,
			Hour:        11,
			Minute:      45,
			AudienceKey: "lapsed-donors",
		},
	}
	def.DelayType = domain.DelayTypeRelativeToTrigger
	def.DelayMinutes = 30
	return def
}

func TestTriggerEvaluator_OnTick_FiresScheduledForAudience(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	def := scheduledDefinition("auto-sched")
	f := newTriggerFixture(t, ctrl, def)

	// The 11:45 slot falls inside the window ending at testNow (12:00)
	f.triggers.lastTick = testNow.Add(-time.Hour)

	f.audience.EXPECT().ListAudience(gomock.Any(), "lapsed-donors").Return([]*domain.RecipientProfile{
		{ID: "donor-1", Email: "one@example.com", Attributes: json.RawMessage(`{"last_gift_days": 400}`)},
		{ID: "donor-2", Email: "two@example.com"},
	}, nil)

	var created []*domain.Execution
	f.execRepo.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e *domain.Execution) (bool, error) {
			created = append(created, e)
			return true, nil
		}).Times(2)

	f.triggers.OnTick(context.Background())

	require.Len(t, created, 2)
	// The synthesized event id embeds the slot, so a repeated tick dedups
	assert.Equal(t, created[0].TriggerEventID, created[1].TriggerEventID)
	assert.Contains(t, created[0].TriggerEventID, "auto-sched@")
	assert.NotEqual(t, created[0].DedupKey, created[1].DedupKey)
}

func TestTriggerEvaluator_OnTick_NoSlotInWindow(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	def := scheduledDefinition("auto-sched")
	f := newTriggerFixture(t, ctrl, def)

	// Window (11:55, 12:00] does not contain the 11:45 slot
	f.triggers.lastTick = testNow.Add(-5 * time.Minute)

	// No audience listing, no inserts
	f.triggers.OnTick(context.Background())
}
