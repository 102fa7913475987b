package triggers

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veilflow/veilflow/common/logger"
	"github.com/veilflow/veilflow/common/models"
)

type fakeTriggerGetter struct {
	triggers map[uuid.UUID]*models.Trigger
}

func (f *fakeTriggerGetter) GetByID(ctx context.Context, id uuid.UUID) (*models.Trigger, error) {
	if t, ok := f.triggers[id]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("trigger not found")
}

type fakeScheduleWorkflows struct {
	published []*models.Workflow
}

func (f *fakeScheduleWorkflows) GetPublishedByTrigger(ctx context.Context, triggerID uuid.UUID) (*models.Workflow, error) {
	for _, wf := range f.published {
		if wf.TriggerID != nil && *wf.TriggerID == triggerID {
			return wf, nil
		}
	}
	return nil, fmt.Errorf("workflow not found")
}

func (f *fakeScheduleWorkflows) ListPublishedByTriggerType(ctx context.Context, t models.TriggerType) ([]*models.Workflow, error) {
	return f.published, nil
}

func cronWorkflow(expr string) (*models.Workflow, *models.Trigger) {
	trigger := &models.Trigger{
		ID:     uuid.New(),
		Type:   models.TriggerCron,
		Config: map[string]interface{}{"expression": expr},
		Status: models.TriggerActive,
	}
	wf := &models.Workflow{
		ID:        uuid.New(),
		Status:    models.WorkflowPublished,
		TriggerID: &trigger.ID,
	}
	return wf, trigger
}

func TestScheduleResyncRegistersPublishedWorkflows(t *testing.T) {
	wf, trigger := cronWorkflow("*/5 * * * *")
	workflows := &fakeScheduleWorkflows{published: []*models.Workflow{wf}}
	getter := &fakeTriggerGetter{triggers: map[uuid.UUID]*models.Trigger{trigger.ID: trigger}}

	s := NewScheduleRunner(workflows, getter, &fakeRunCreator{}, logger.New("error", "text"))

	s.Resync(context.Background())
	assert.Len(t, s.entries, 1)

	// A second resync with the same expression keeps the entry stable
	first := s.entries[wf.ID]
	s.Resync(context.Background())
	assert.Equal(t, first, s.entries[wf.ID])
}

func TestScheduleResyncDropsUnpublishedWorkflows(t *testing.T) {
	wf, trigger := cronWorkflow("*/5 * * * *")
	workflows := &fakeScheduleWorkflows{published: []*models.Workflow{wf}}
	getter := &fakeTriggerGetter{triggers: map[uuid.UUID]*models.Trigger{trigger.ID: trigger}}

	s := NewScheduleRunner(workflows, getter, &fakeRunCreator{}, logger.New("error", "text"))
	s.Resync(context.Background())
	require.Len(t, s.entries, 1)

	// Pause: the workflow no longer lists as published
	workflows.published = nil
	s.Resync(context.Background())
	assert.Empty(t, s.entries)
}

func TestScheduleResyncReregistersChangedExpression(t *testing.T) {
	wf, trigger := cronWorkflow("*/5 * * * *")
	workflows := &fakeScheduleWorkflows{published: []*models.Workflow{wf}}
	getter := &fakeTriggerGetter{triggers: map[uuid.UUID]*models.Trigger{trigger.ID: trigger}}

	s := NewScheduleRunner(workflows, getter, &fakeRunCreator{}, logger.New("error", "text"))
	s.Resync(context.Background())
	require.Len(t, s.entries, 1)
	old := s.entries[wf.ID]

	trigger.Config["expression"] = "0 * * * *"
	s.Resync(context.Background())
	require.Len(t, s.entries, 1)
	assert.NotEqual(t, old.id, s.entries[wf.ID].id)
	assert.Equal(t, "0 * * * *", s.entries[wf.ID].expr)
}

func TestScheduleSkipsInvalidExpression(t *testing.T) {
	wf, trigger := cronWorkflow("not a cron line")
	workflows := &fakeScheduleWorkflows{published: []*models.Workflow{wf}}
	getter := &fakeTriggerGetter{triggers: map[uuid.UUID]*models.Trigger{trigger.ID: trigger}}

	s := NewScheduleRunner(workflows, getter, &fakeRunCreator{}, logger.New("error", "text"))
	s.Resync(context.Background())
	assert.Empty(t, s.entries)
}

func TestScheduleFireCreatesRun(t *testing.T) {
	wf, trigger := cronWorkflow("*/5 * * * *")
	workflows := &fakeScheduleWorkflows{published: []*models.Workflow{wf}}
	getter := &fakeTriggerGetter{triggers: map[uuid.UUID]*models.Trigger{trigger.ID: trigger}}
	runs := &fakeRunCreator{}

	s := NewScheduleRunner(workflows, getter, runs, logger.New("error", "text"))
	s.fire(wf.ID, trigger.ID)

	require.Len(t, runs.created, 1)
	assert.Equal(t, "schedule", runs.created[0].source)
	assert.Equal(t, wf.ID, runs.created[0].workflowID)
	assert.NotEmpty(t, runs.created[0].payload["scheduledAt"])
}

func TestScheduleFireSkipsWhenNoLongerPublished(t *testing.T) {
	wf, trigger := cronWorkflow("*/5 * * * *")
	workflows := &fakeScheduleWorkflows{}
	getter := &fakeTriggerGetter{triggers: map[uuid.UUID]*models.Trigger{trigger.ID: trigger}}
	runs := &fakeRunCreator{}

	s := NewScheduleRunner(workflows, getter, runs, logger.New("error", "text"))
	s.fire(wf.ID, trigger.ID)
	assert.Empty(t, runs.created)
}
