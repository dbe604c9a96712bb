package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Evjaj/purescan-sub000/internal/discovery"
	"github.com/Evjaj/purescan-sub000/internal/tokenizer"
	"github.com/Evjaj/purescan-sub000/pkg/models"
	"go.uber.org/zap"
)

// externalFileCap guards the external enumeration pass much more
// conservatively than the internal one: server-rooted paths are slower
// and riskier to walk.
const externalFileCap = 2000

// runDiscovery enumerates external roots first, then the internal root,
// deduplicating by resolved real path across both passes, and merges the
// results into one ordered file list when both finish.
func (e *Engine) runDiscovery(ctx context.Context, t *tick, st *models.ScanState) error {
	if st.Discovery == nil {
		st.Discovery = &models.DiscoveryState{
			Root:         models.RootExternal,
			PendingRoots: append([]string{}, e.cfg.ExternalRoots...),
		}
	}
	d := st.Discovery

	seen := make(map[string]bool, len(d.Seen))
	for _, p := range d.Seen {
		seen[p] = true
	}
	persistSeen := func() {
		d.Seen = d.Seen[:0]
		for p := range seen {
			d.Seen = append(d.Seen, p)
		}
		sort.Strings(d.Seen)
	}

	shouldStop := func() bool {
		return t.expired() || e.cancelRequested()
	}

	// External pass: one pending root at a time.
	for d.Root == models.RootExternal {
		if len(d.PendingRoots) == 0 || len(d.ExternalFiles) >= externalFileCap {
			d.Root = models.RootInternal
			d.PendingRoots = nil
			break
		}
		if shouldStop() {
			persistSeen()
			return e.checkCancel(st)
		}

		root := d.PendingRoots[0]
		files, stopped, err := e.walker.Enumerate(root, seen, shouldStop)
		if err != nil {
			e.logger.Warn("External root enumeration failed",
				zap.String("root", root), zap.Error(err))
		}
		if len(d.ExternalFiles)+len(files) > externalFileCap {
			files = files[:externalFileCap-len(d.ExternalFiles)]
		}
		d.ExternalFiles = append(d.ExternalFiles, files...)
		if stopped {
			persistSeen()
			return e.checkCancel(st)
		}
		d.PendingRoots = d.PendingRoots[1:]
	}

	// Internal pass. Partial results persist across interrupted ticks;
	// the seen set makes the rewalk return only files not collected yet,
	// so repeated interruptions still converge on the full list.
	if d.Root == models.RootInternal {
		if shouldStop() {
			persistSeen()
			return e.checkCancel(st)
		}
		files, stopped, err := e.walker.Enumerate(e.cfg.InternalRoot, seen, shouldStop)
		if err != nil {
			e.logger.Warn("Internal root enumeration failed", zap.Error(err))
		}
		for _, f := range files {
			r, rerr := filepath.Rel(e.cfg.InternalRoot, f)
			if rerr != nil {
				r = f
			}
			d.InternalFiles = append(d.InternalFiles, r)
		}
		if stopped {
			persistSeen()
			return e.checkCancel(st)
		}
	}

	// Merge: external first, then internal sorted lexicographically, so
	// resumption after a crash continues from a deterministic cursor.
	sort.Strings(d.ExternalFiles)
	sort.Strings(d.InternalFiles)
	st.FileList = append(append([]string{}, d.ExternalFiles...), d.InternalFiles...)
	st.ExternalCount = len(d.ExternalFiles)
	st.TotalFiles = len(st.FileList)
	st.ChunkStart = 0
	st.Discovery = nil
	st.CompletePhase(models.PhaseDiscovery,
		models.StepCount{Checked: st.TotalFiles}, models.StepSuccess)
	e.logger.Info("Discovery complete",
		zap.Int("total", st.TotalFiles),
		zap.Int("external", st.ExternalCount))
	return nil
}

// checkCancel converts a pending cancel observed mid-phase into a
// cancelled state with cursors stripped; a plain budget stop leaves the
// cursor in place. Stale running state must never be written back after
// EnforceCancel has cleared the cancel flags.
func (e *Engine) checkCancel(st *models.ScanState) error {
	if e.cancelRequested() {
		st.Status = models.StatusCancelled
		st.FinishedAt = e.now()
		st.StripCursors()
	}
	return nil
}

// runMalwareScan processes one adaptively-sized chunk of the file list.
func (e *Engine) runMalwareScan(ctx context.Context, t *tick, st *models.ScanState) error {
	if st.ChunkStart >= st.TotalFiles {
		count := st.StepCounts[models.PhaseMalwareScan]
		status := models.StepSuccess
		if count.Found > 0 {
			status = models.StepCritical
		} else if st.Errors > 0 {
			status = models.StepWarning
		}
		st.CompletePhase(models.PhaseMalwareScan, count, status)
		return nil
	}

	cat, err := e.loader.Load(ctx)
	if err != nil {
		st.CompletePhase(models.PhaseMalwareScan, st.StepCounts[models.PhaseMalwareScan], models.StepWarning)
		return err
	}

	external := st.ChunkStart < st.ExternalCount
	size := st.Chunk.Size
	if external {
		// External paths are higher-latency and higher-risk of timeout;
		// they always use the fixed minimal chunk regardless of history.
		size = e.cfg.ExternalChunkSize
	}
	end := st.ChunkStart + size
	if end > st.TotalFiles {
		end = st.TotalFiles
	}
	if external && end > st.ExternalCount {
		end = st.ExternalCount
	}

	chunkStart := e.now()
	count := st.StepCounts[models.PhaseMalwareScan]
	completed := true

	for st.ChunkStart < end {
		if e.cancelRequested() {
			return e.checkCancel(st)
		}
		if t.expired() {
			completed = false
			break
		}

		idx := st.ChunkStart
		path := st.FileList[idx]
		full := path
		isExternal := idx < st.ExternalCount
		if !isExternal {
			full = filepath.Join(e.cfg.InternalRoot, path)
		}

		st.ChunkStart++
		count.Checked++
		st.Scanned++

		// Already-reported paths are skipped without re-scanning.
		if st.HasFinding(path) {
			continue
		}

		finding, ferr := e.scanOneFile(ctx, full, path, isExternal, cat.Rules)
		if ferr != nil {
			st.Errors++
			continue
		}
		if finding != nil {
			count.Found += appendFindings(st, []*models.Finding{finding})
		}
	}

	st.StepCounts[models.PhaseMalwareScan] = count
	if st.TotalFiles > 0 {
		st.Progress = 20 + 80*st.ChunkStart/st.TotalFiles
		if st.Progress > 99 {
			st.Progress = 99
		}
	}

	// Adaptive sizing reacts only to fully-processed internal chunks.
	if completed && !external {
		elapsed := e.now().Sub(chunkStart).Seconds()
		st.Chunk.LastDuration = elapsed
		adjustChunkSize(e.cfg, st.Chunk, elapsed)
	}
	return nil
}

// scanOneFile runs the full pipeline over one file. Failures are
// per-file: the caller counts them without aborting the chunk.
func (e *Engine) scanOneFile(ctx context.Context, full, display string, isExternal bool, rules []*models.PatternRule) (*models.Finding, error) {
	content, err := discovery.ReadContent(full, e.cfg.MaxFileSize, e.cfg.HeadReadSize)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", display, err)
	}

	var stripped *tokenizer.StripResult
	if tokenizer.IsProbablyScriptLike(content) {
		stripped = tokenizer.StripWithLineMap(content)
	}

	raw := e.matcher.Match(content, stripped, rules)
	detections, err := e.builder.Build(ctx, content, raw, true)
	if err != nil {
		return nil, err
	}

	// Tokenizer fallback means the cleaned view was unavailable; note it
	// on the first detection so the report explains the partial view.
	if len(detections) > 0 && stripped != nil && stripped.Identity {
		detections[0].Patterns = append(detections[0].Patterns, "warning: token view unavailable, raw-only match")
	}

	detections = append(detections, e.scanDecodedLayers(ctx, content, rules)...)
	if len(detections) == 0 {
		return nil, nil
	}

	f := &models.Finding{
		Path:       display,
		Snippets:   detections,
		IsExternal: isExternal,
	}
	if info, serr := osStat(full); serr == nil {
		f.Size = info.size
		f.MTime = info.mtime
	}
	return f, nil
}

// scanDecodedLayers peels obfuscation layers from the content and runs
// the rule set over the decoded text. Line numbers in the returned
// detections refer to the decoded view, so each one carries a note naming
// the layers that were unwrapped.
func (e *Engine) scanDecodedLayers(ctx context.Context, content string, rules []*models.PatternRule) []*models.Detection {
	decoded, layers := e.deob.Unwrap(content)
	if len(layers) == 0 {
		return nil
	}

	var stripped *tokenizer.StripResult
	if tokenizer.IsProbablyScriptLike(decoded) {
		stripped = tokenizer.StripWithLineMap(decoded)
	}
	matches := e.matcher.Match(decoded, stripped, rules)
	detections, err := e.builder.Build(ctx, decoded, matches, false)
	if err != nil || len(detections) == 0 {
		return nil
	}

	note := "decoded layers: " + strings.Join(layers, ", ")
	for _, d := range detections {
		d.Patterns = append(d.Patterns, note)
	}
	return detections
}

// runFinalize marks the scan complete, freezes progress, writes the
// summary, and tears down the discovery cursor and file list while
// keeping findings.
func (e *Engine) runFinalize(st *models.ScanState) error {
	st.Status = models.StatusCompleted
	st.Progress = 100
	st.FinishedAt = e.now()
	st.Message = fmt.Sprintf("Scan complete: %d sources checked, %d suspicious, %d errors",
		st.Scanned, st.Suspicious, st.Errors)

	st.FileList = nil
	st.ChunkStart = 0
	st.TotalFiles = 0
	st.ExternalCount = 0
	st.Integrity = nil
	st.ContentAudit = nil
	st.Database = nil
	st.Discovery = nil
	st.Chunk = nil

	st.CompletePhase(models.PhaseFinalize, models.StepCount{}, models.StepSuccess)
	e.logger.Info("Scan finished",
		zap.String("id", st.ID),
		zap.Int("findings", len(st.Findings)))
	return nil
}

// statInfo is the slice of os.FileInfo the engine records on findings.
type statInfo struct {
	size  int64
	mtime time.Time
}

func osStat(path string) (statInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return statInfo{}, err
	}
	return statInfo{size: info.Size(), mtime: info.ModTime()}, nil
}
