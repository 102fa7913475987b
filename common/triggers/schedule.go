package triggers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/veilflow/veilflow/common/logger"
	"github.com/veilflow/veilflow/common/metrics"
	"github.com/veilflow/veilflow/common/models"
)

const scheduleResyncInterval = 30 * time.Second

// ScheduleRunner registers a cron task per published workflow bound to a
// cron trigger. Registrations are resynced from the store periodically,
// which gives publish/pause their dynamic effect without cross-process
// signalling.
type ScheduleRunner struct {
	workflows WorkflowSource
	triggers  triggerGetter
	runs      RunCreator
	log       *logger.Logger

	cron *cron.Cron

	mu      sync.Mutex
	entries map[uuid.UUID]scheduleEntry
}

type triggerGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Trigger, error)
}

type scheduleEntry struct {
	id   cron.EntryID
	expr string
}

// NewScheduleRunner creates the cron supervisor
func NewScheduleRunner(workflows WorkflowSource, triggers triggerGetter, runs RunCreator, log *logger.Logger) *ScheduleRunner {
	return &ScheduleRunner{
		workflows: workflows,
		triggers:  triggers,
		runs:      runs,
		log:       log,
		cron:      cron.New(),
		entries:   make(map[uuid.UUID]scheduleEntry),
	}
}

// Start runs the supervisor until the context is cancelled
func (s *ScheduleRunner) Start(ctx context.Context) {
	s.cron.Start()
	defer s.cron.Stop()

	s.Resync(ctx)

	ticker := time.NewTicker(scheduleResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Resync(ctx)
		}
	}
}

// Resync reconciles registered cron tasks with the published workflows in
// the store: new bindings register, changed expressions re-register,
// paused workflows drop out.
func (s *ScheduleRunner) Resync(ctx context.Context) {
	workflows, err := s.workflows.ListPublishedByTriggerType(ctx, models.TriggerCron)
	if err != nil {
		s.log.Error("schedule resync failed", "error", err)
		return
	}

	seen := make(map[uuid.UUID]bool, len(workflows))
	for _, wf := range workflows {
		if wf.TriggerID == nil {
			continue
		}
		trigger, err := s.triggers.GetByID(ctx, *wf.TriggerID)
		if err != nil {
			s.log.WithWorkflowID(wf.ID.String()).Error("schedule trigger lookup failed", "error", err)
			continue
		}

		expr := trigger.ConfigString("expression", "")
		if expr == "" {
			expr = trigger.ConfigString("cron", "")
		}
		if expr == "" {
			s.log.WithTriggerID(trigger.ID.String()).Warn("cron trigger has no expression, skipping")
			continue
		}

		seen[wf.ID] = true
		s.register(ctx, wf, trigger, expr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for workflowID, entry := range s.entries {
		if !seen[workflowID] {
			s.cron.Remove(entry.id)
			delete(s.entries, workflowID)
			s.log.WithWorkflowID(workflowID.String()).Info("schedule deregistered")
		}
	}
}

func (s *ScheduleRunner) register(ctx context.Context, wf *models.Workflow, trigger *models.Trigger, expr string) {
	s.mu.Lock()
	existing, registered := s.entries[wf.ID]
	s.mu.Unlock()

	if registered && existing.expr == expr {
		return
	}
	if registered {
		s.cron.Remove(existing.id)
	}

	workflowID := wf.ID
	triggerID := trigger.ID
	entryID, err := s.cron.AddFunc(expr, func() {
		s.fire(workflowID, triggerID)
	})
	if err != nil {
		// Invalid expressions are skipped, not fatal
		s.log.WithTriggerID(triggerID.String()).Warn("invalid cron expression, skipping",
			"expression", expr, "error", err)
		return
	}

	s.mu.Lock()
	s.entries[wf.ID] = scheduleEntry{id: entryID, expr: expr}
	s.mu.Unlock()

	s.log.WithWorkflowID(wf.ID.String()).Info("schedule registered", "expression", expr)
}

func (s *ScheduleRunner) fire(workflowID, triggerID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Re-resolve the workflow so a pause between resyncs still wins
	wf, err := s.workflows.GetPublishedByTrigger(ctx, triggerID)
	if err != nil {
		s.log.WithWorkflowID(workflowID.String()).Warn("scheduled workflow no longer published", "error", err)
		return
	}

	payload := map[string]interface{}{
		"scheduledAt": time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := s.runs.CreateRun(ctx, wf, &triggerID, payload, "schedule"); err != nil {
		s.log.WithWorkflowID(wf.ID.String()).Error("scheduled run creation failed", "error", err)
		return
	}
	metrics.TriggerFires.WithLabelValues(string(models.TriggerCron)).Inc()
}
