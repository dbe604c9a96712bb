package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Evjaj/purescan-sub000/pkg/models"
	"go.uber.org/zap"
)

// tick carries one invocation's deadline and cancellation view.
type tick struct {
	engine   *Engine
	start    time.Time
	deadline time.Time
}

// expired reports whether the tick's wall-clock budget is spent. Phases
// check this inside every loop and return with their cursor persisted
// rather than risk a hard host timeout.
func (t *tick) expired() bool {
	return t.engine.now().After(t.deadline)
}

// Execute runs one invocation of the state machine: acquire the lock,
// load state, dispatch the first incomplete phase for one bounded slice
// of work, persist the whole record, and return. A tick that finds the
// lock held exits immediately and contributes nothing.
func (e *Engine) Execute(ctx context.Context) error {
	if err := e.store.GetTransient(keyLock, nil); err == nil {
		e.logger.Debug("Tick skipped, lock held")
		return nil
	}
	lockTTL := time.Duration(e.cfg.LockTTLSeconds) * time.Second
	if err := e.store.SetTransient(keyLock, e.now().UnixNano(), lockTTL); err != nil {
		return err
	}
	defer func() {
		if err := e.store.DeleteTransient(keyLock); err != nil {
			e.logger.Warn("Failed to release execute lock", zap.Error(err))
		}
	}()

	st, err := e.loadState()
	if err != nil {
		return nil // no scan in flight
	}
	if st.Status != models.StatusRunning {
		return nil
	}

	// Lazy one-time initialization.
	if st.Chunk == nil {
		st.Chunk = &models.ChunkState{
			Size:          e.cfg.InitialChunkSize,
			TargetSeconds: e.cfg.ChunkTargetSeconds,
		}
	}

	budget := e.cfg.TimeBudgetSeconds - e.cfg.SafetyMargin
	if budget <= 0 {
		budget = e.cfg.TimeBudgetSeconds
	}
	t := &tick{
		engine:   e,
		start:    e.now(),
		deadline: e.now().Add(time.Duration(budget * float64(time.Second))),
	}

	if e.cancelRequested() {
		st.Status = models.StatusCancelled
		st.FinishedAt = e.now()
		st.StripCursors()
		if err := e.saveState(st); err != nil {
			return err
		}
		return e.EnforceCancel()
	}

	phase := st.NextPhase()
	st.CurrentStep = phase
	e.runPhase(ctx, t, st, phase)

	// Cancellation observed mid-phase leaves a cancelled state; keep it.
	if st.Status == models.StatusRunning || st.Status == models.StatusCompleted || st.Status == models.StatusCancelled {
		if err := e.saveState(st); err != nil {
			return err
		}
	}
	return nil
}

// runPhase dispatches one phase, converting any unexpected fault into a
// recorded per-phase error instead of letting it escape the tick.
func (e *Engine) runPhase(ctx context.Context, t *tick, st *models.ScanState, phase models.Phase) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Phase panicked",
				zap.String("phase", string(phase)),
				zap.Any("panic", r))
			st.StepError[phase] = fmt.Sprintf("internal fault: %v", r)
			st.CompletePhase(phase, models.StepCount{}, models.StepCritical)
		}
	}()

	var err error
	switch phase {
	case models.PhasePluginIntegrity:
		err = e.runIntegrity(ctx, t, st, models.PhasePluginIntegrity)
	case models.PhaseCoreIntegrity:
		err = e.runIntegrity(ctx, t, st, models.PhaseCoreIntegrity)
	case models.PhaseSpamvertising:
		err = e.runSpamvertising(ctx, t, st)
	case models.PhasePasswordAudit:
		err = e.runPasswordAudit(ctx, st)
	case models.PhaseUserAudit:
		err = e.runUserAudit(ctx, st)
	case models.PhaseDatabaseScan:
		err = e.runDatabaseScan(ctx, t, st)
	case models.PhaseDiscovery:
		err = e.runDiscovery(ctx, t, st)
	case models.PhaseMalwareScan:
		err = e.runMalwareScan(ctx, t, st)
	case models.PhaseFinalize:
		err = e.runFinalize(st)
	}

	if err != nil {
		e.logger.Warn("Phase error recorded",
			zap.String("phase", string(phase)),
			zap.Error(err))
		st.StepError[phase] = err.Error()
		if !st.Completed[phase] {
			st.CompletePhase(phase, st.StepCounts[phase], models.StepWarning)
		}
	}
}

// appendFindings adds findings not already present for their path,
// keeping resumed ticks idempotent.
func appendFindings(st *models.ScanState, found []*models.Finding) int {
	added := 0
	for _, f := range found {
		if st.HasFinding(f.Path) {
			continue
		}
		st.Findings = append(st.Findings, f)
		st.Suspicious++
		added++
	}
	return added
}
