package engine

import (
	"context"
	"fmt"

	"github.com/Evjaj/purescan-sub000/internal/integrity"
	"github.com/Evjaj/purescan-sub000/pkg/models"
	"go.uber.org/zap"
)

// verifyBatchSize bounds how many manifest entries one tick hashes.
const verifyBatchSize = 200

// integrityScore is the weight attached to a checksum mismatch.
const integrityScore = 70

// runIntegrity drives a checksum phase through its announce, fetch,
// verify, and report sub-stages. The split keeps each tick's wall-clock
// cost small and lets the UI show progress between invocations.
func (e *Engine) runIntegrity(ctx context.Context, t *tick, st *models.ScanState, phase models.Phase) error {
	target := "core"
	if phase == models.PhasePluginIntegrity {
		target = "plugins"
	}

	if e.remote == nil {
		st.CompletePhase(phase, models.StepCount{}, models.StepWarning)
		st.StepError[phase] = "no checksum authority configured"
		return nil
	}

	if st.Integrity == nil {
		st.Integrity = &models.IntegrityState{Stage: models.StageAnnounce}
	}

	for !t.expired() {
		if e.cancelRequested() {
			return e.checkCancel(st)
		}

		switch st.Integrity.Stage {
		case models.StageAnnounce:
			e.logger.Info("Integrity check starting", zap.String("target", target))
			st.Integrity.Stage = models.StageFetch
			return nil // keep the announce tick cheap

		case models.StageFetch:
			manifest, err := e.remote.FetchExpectedHashes(ctx, target)
			if err != nil {
				st.Integrity = nil
				st.CompletePhase(phase, models.StepCount{}, models.StepWarning)
				return fmt.Errorf("fetch %s manifest: %w", target, err)
			}
			st.Integrity.Manifest = manifest
			st.Integrity.Pending = integrity.PendingPaths(manifest)
			st.Integrity.Stage = models.StageVerify

		case models.StageVerify:
			if len(st.Integrity.Pending) == 0 {
				st.Integrity.Stage = models.StageReport
				continue
			}
			results, rest := integrity.VerifyBatch(
				e.cfg.InternalRoot, st.Integrity.Manifest, st.Integrity.Pending, verifyBatchSize)
			st.Integrity.Pending = rest
			for _, r := range results {
				if r.Modified || r.Missing {
					st.Integrity.Modified = append(st.Integrity.Modified, r.Path)
				}
			}

		case models.StageReport:
			checked := len(st.Integrity.Manifest)
			found := 0
			for _, path := range st.Integrity.Modified {
				f := &models.Finding{
					Path: path,
					Snippets: []*models.Detection{{
						OriginalLine: 1,
						MatchedText:  path,
						Patterns:     []string{"Checksum mismatch against official manifest"},
						Score:        integrityScore,
						Confidence:   models.ConfidenceMedium,
						WithoutAI:    true,
					}},
				}
				if phase == models.PhaseCoreIntegrity {
					f.IsCoreModified = true
				} else {
					f.IsPluginModified = true
				}
				found += appendFindings(st, []*models.Finding{f})
			}
			status := models.StepSuccess
			if found > 0 {
				status = models.StepCritical
			}
			st.Integrity = nil
			st.CompletePhase(phase, models.StepCount{Checked: checked, Found: found}, status)
			return nil
		}
	}
	return nil // budget spent; cursor persists in st.Integrity
}

// runSpamvertising walks posts and comments in batches through the
// spamvertising checker.
func (e *Engine) runSpamvertising(ctx context.Context, t *tick, st *models.ScanState) error {
	if e.source == nil {
		st.CompletePhase(models.PhaseSpamvertising, models.StepCount{}, models.StepWarning)
		st.StepError[models.PhaseSpamvertising] = "no database configured"
		return nil
	}

	if st.ContentAudit == nil {
		st.ContentAudit = &models.ContentAuditState{}
	}
	ca := st.ContentAudit
	batch := e.cfg.ContentBatchSize

	for !t.expired() && !ca.PostsDone {
		if e.cancelRequested() {
			return e.checkCancel(st)
		}
		found, checked, err := e.spamvert.ScanPosts(e.source, e.cfg.TablePrefix, ca.PostOffset, batch)
		if err != nil {
			ca.InternalErrors++
			ca.PostsDone = true
			break
		}
		ca.CheckedSoFar += checked
		ca.FoundSoFar += appendFindings(st, found)
		ca.PostOffset += int64(checked)
		if checked < batch {
			ca.PostsDone = true
		}
	}

	for !t.expired() && ca.PostsDone && !ca.CommentsDone {
		if e.cancelRequested() {
			return e.checkCancel(st)
		}
		found, checked, err := e.spamvert.ScanComments(e.source, e.cfg.TablePrefix, ca.CommentOffset, batch)
		if err != nil {
			ca.InternalErrors++
			ca.CommentsDone = true
			break
		}
		ca.CheckedSoFar += checked
		ca.FoundSoFar += appendFindings(st, found)
		ca.CommentOffset += int64(checked)
		if checked < batch {
			ca.CommentsDone = true
		}
	}

	if ca.PostsDone && ca.CommentsDone {
		status := models.StepSuccess
		if ca.FoundSoFar > 0 {
			status = models.StepCritical
		} else if ca.InternalErrors > 0 {
			status = models.StepWarning
		}
		st.ContentAudit = nil
		st.CompletePhase(models.PhaseSpamvertising,
			models.StepCount{Checked: ca.CheckedSoFar, Found: ca.FoundSoFar}, status)
	}
	return nil
}

// runPasswordAudit audits every administrator password in one slice;
// admin accounts are few.
func (e *Engine) runPasswordAudit(ctx context.Context, st *models.ScanState) error {
	if e.source == nil {
		st.CompletePhase(models.PhasePasswordAudit, models.StepCount{}, models.StepWarning)
		st.StepError[models.PhasePasswordAudit] = "no database configured"
		return nil
	}

	found, checked, err := e.passwd.Check(e.source)
	if err != nil {
		st.CompletePhase(models.PhasePasswordAudit, models.StepCount{}, models.StepWarning)
		return err
	}

	added := appendFindings(st, found)
	status := models.StepSuccess
	if added > 0 {
		status = models.StepCritical
	}
	st.CompletePhase(models.PhasePasswordAudit,
		models.StepCount{Checked: checked, Found: added}, status)
	return nil
}

// runUserAudit runs the account audit, the hidden-admin detection, and
// the autoloaded-option scan.
func (e *Engine) runUserAudit(ctx context.Context, st *models.ScanState) error {
	if e.source == nil {
		st.CompletePhase(models.PhaseUserAudit, models.StepCount{}, models.StepWarning)
		st.StepError[models.PhaseUserAudit] = "no database configured"
		return nil
	}

	checked, found := 0, 0

	acct, n, err := e.users.CheckAccounts(e.source)
	if err != nil {
		st.CompletePhase(models.PhaseUserAudit, models.StepCount{}, models.StepWarning)
		return err
	}
	checked += n
	found += appendFindings(st, acct)

	hidden, _, err := e.users.CheckHiddenAdmins(e.source)
	if err != nil {
		st.CompletePhase(models.PhaseUserAudit, models.StepCount{Checked: checked, Found: found}, models.StepWarning)
		return err
	}
	found += appendFindings(st, hidden)

	cat, err := e.loader.Load(ctx)
	if err != nil {
		st.CompletePhase(models.PhaseUserAudit, models.StepCount{Checked: checked, Found: found}, models.StepWarning)
		return err
	}
	opts, n, err := e.users.CheckOptions(e.source, cat.Rules, e.cfg.GlobalScoreGate)
	if err != nil {
		st.CompletePhase(models.PhaseUserAudit, models.StepCount{Checked: checked, Found: found}, models.StepWarning)
		return err
	}
	checked += n
	found += appendFindings(st, opts)

	status := models.StepSuccess
	if found > 0 {
		status = models.StepCritical
	}
	st.CompletePhase(models.PhaseUserAudit,
		models.StepCount{Checked: checked, Found: found}, status)
	return nil
}

// runDatabaseScan iterates the configured deep-scan targets in batches,
// carrying a table/offset cursor across ticks.
func (e *Engine) runDatabaseScan(ctx context.Context, t *tick, st *models.ScanState) error {
	if !e.cfg.DeepScanEnabled || e.source == nil || len(e.cfg.DeepScanTargets) == 0 {
		st.CompletePhase(models.PhaseDatabaseScan, models.StepCount{}, models.StepSuccess)
		return nil
	}

	if st.Database == nil {
		st.Database = &models.DatabaseState{}
	}
	cat, err := e.loader.Load(ctx)
	if err != nil {
		st.Database = nil
		st.CompletePhase(models.PhaseDatabaseScan, models.StepCount{}, models.StepWarning)
		return err
	}

	count := st.StepCounts[models.PhaseDatabaseScan]
	for !t.expired() {
		if e.cancelRequested() {
			return e.checkCancel(st)
		}
		if st.Database.TargetIndex >= len(e.cfg.DeepScanTargets) {
			st.Database = nil
			status := models.StepSuccess
			if count.Found > 0 {
				status = models.StepCritical
			}
			st.CompletePhase(models.PhaseDatabaseScan, count, status)
			return nil
		}

		target := e.cfg.DeepScanTargets[st.Database.TargetIndex]
		res, err := e.deep.ScanBatch(ctx, e.source, target, st.Database.Offset, cat.Rules)
		if err != nil {
			st.Errors++
			st.Database.TargetIndex++
			st.Database.Offset = 0
			continue
		}

		count.Checked += res.Rows
		count.Found += appendFindings(st, res.Findings)
		st.StepCounts[models.PhaseDatabaseScan] = count

		if res.Done {
			st.Database.TargetIndex++
			st.Database.Offset = 0
		} else {
			st.Database.Offset += int64(res.Rows)
		}
	}
	st.StepCounts[models.PhaseDatabaseScan] = count
	return nil // budget spent; cursor persists in st.Database
}
