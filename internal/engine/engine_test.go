package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Evjaj/purescan-sub000/internal/config"
	"github.com/Evjaj/purescan-sub000/internal/store"
	"github.com/Evjaj/purescan-sub000/pkg/models"
	"go.uber.org/zap"
)

func testEngineConfig(root string) *config.Config {
	return &config.Config{
		InternalRoot: root,
		Exclude:      []string{".git"},
		MaxFileSize:  2 * 1024 * 1024,
		HeadReadSize: 512 * 1024,

		TimeBudgetSeconds: 25,
		SafetyMargin:      5,
		LockTTLSeconds:    8,

		InitialChunkSize:   50,
		MinChunkSize:       10,
		ExternalChunkSize:  10,
		ChunkTargetSeconds: 10,
		ChunkGrowFactor:    1.8,
		ChunkShrinkFactor:  0.6,
		ChunkGentleUp:      1.2,
		ChunkGentleDown:    0.8,
		ChunkFastRatio:     0.5,
		ChunkSlowRatio:     1.1,

		GlobalScoreGate:     20,
		ConfidenceLow:       20,
		ConfidenceMedium:    55,
		ConfidenceHigh:      85,
		ClusterContextLines: 6,
		ClusterMergeLines:   10,
		SnippetWindow:       250,

		ContentBatchSize: 200,

		AuditSignalMinimum: 2,
		AuditRecentDays:    45,

		DeepScanBatch:    500,
		DeepScanMinChars: 100,

		RemoteCacheHours:   24,
		LocalCacheDays:     30,
		RemoteBackoffHours: 6,
	}
}

func testEngine(t *testing.T, root string) *Engine {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	eng, err := New(Options{
		Config: testEngineConfig(root),
		Store:  st,
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return eng
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
}

func runToCompletion(t *testing.T, eng *Engine) *models.Snapshot {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		if err := eng.Execute(ctx); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		snap, err := eng.Progress()
		if err != nil {
			t.Fatalf("Progress() error = %v", err)
		}
		if snap.Status != models.StatusRunning {
			return snap
		}
	}
	t.Fatal("scan did not finish within 60 ticks")
	return nil
}

func TestEngine_FullScanLifecycle(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "index.php"), "<?php echo 'welcome'; ?>")
	writeTestFile(t, filepath.Join(root, "notes.txt"), "maintenance notes, nothing special")
	writeTestFile(t, filepath.Join(root, "uploads", "cache.php"),
		"<?php eval(base64_decode($_POST['cmd'])); ?>")

	eng := testEngine(t, root)
	if err := eng.StartScan(); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	snap := runToCompletion(t, eng)
	if snap.Status != models.StatusCompleted {
		t.Fatalf("Status = %q, want completed", snap.Status)
	}
	if snap.Progress != 100 {
		t.Errorf("Progress = %d, want 100", snap.Progress)
	}
	if len(snap.Findings) != 1 {
		t.Fatalf("Findings = %d, want 1", len(snap.Findings))
	}

	f := snap.Findings[0]
	if f.Path != filepath.Join("uploads", "cache.php") {
		t.Errorf("finding Path = %q, want uploads/cache.php", f.Path)
	}
	if len(f.Snippets) == 0 {
		t.Fatal("finding has no detections")
	}
	d := f.Snippets[0]
	if d.Confidence != models.ConfidenceHigh {
		t.Errorf("Confidence = %q, want high", d.Confidence)
	}
	if !d.WithoutAI {
		t.Error("WithoutAI = false with no verdict client")
	}

	// Every phase reported a terminal status.
	for _, phase := range models.PhaseOrder() {
		if _, ok := snap.StepStatus[phase]; !ok {
			t.Errorf("phase %s has no recorded status", phase)
		}
	}
	if snap.StepStatus[models.PhaseMalwareScan] != models.StepCritical {
		t.Errorf("malware scan status = %q, want critical", snap.StepStatus[models.PhaseMalwareScan])
	}
	if snap.StepStatus[models.PhaseSpamvertising] != models.StepWarning {
		t.Errorf("spamvertising status without database = %q, want warning",
			snap.StepStatus[models.PhaseSpamvertising])
	}
}

func TestEngine_CleanTreeCompletesQuietly(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "index.php"), "<?php echo 'hello'; ?>")

	eng := testEngine(t, root)
	if err := eng.StartScan(); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	snap := runToCompletion(t, eng)
	if snap.Status != models.StatusCompleted {
		t.Fatalf("Status = %q, want completed", snap.Status)
	}
	if len(snap.Findings) != 0 {
		t.Errorf("clean tree produced %d findings", len(snap.Findings))
	}
	if snap.Suspicious != 0 {
		t.Errorf("Suspicious = %d, want 0", snap.Suspicious)
	}
}

func TestEngine_StartScanRejectsConcurrent(t *testing.T) {
	eng := testEngine(t, t.TempDir())

	if err := eng.StartScan(); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	if err := eng.StartScan(); err == nil {
		t.Error("second StartScan() succeeded while a scan is running")
	}
}

func TestEngine_RestartAfterCompletion(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "a.php"), "<?php ?>")

	eng := testEngine(t, root)
	if err := eng.StartScan(); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	runToCompletion(t, eng)

	if err := eng.StartScan(); err != nil {
		t.Errorf("StartScan() after completion error = %v", err)
	}
}

func TestEngine_CancelScan(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "a.php"), "<?php ?>")

	eng := testEngine(t, root)
	if err := eng.StartScan(); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	// Advance a few phases, then cancel mid-scan.
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := eng.Execute(ctx); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if err := eng.CancelScan(); err != nil {
		t.Fatalf("CancelScan() error = %v", err)
	}

	snap, err := eng.Progress()
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if snap.Status != models.StatusCancelled {
		t.Fatalf("Status = %q, want cancelled", snap.Status)
	}

	// The cancelled state has no resumable cursors left.
	st, err := eng.loadState()
	if err != nil {
		t.Fatalf("loadState() error = %v", err)
	}
	if st.Discovery != nil || st.Database != nil || st.Chunk != nil || st.FileList != nil {
		t.Error("cancelled state still carries cursors")
	}

	// Further ticks do not resurrect the scan.
	for i := 0; i < 3; i++ {
		if err := eng.Execute(ctx); err != nil {
			t.Fatalf("Execute() after cancel error = %v", err)
		}
	}
	snap, err = eng.Progress()
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if snap.Status != models.StatusCancelled {
		t.Errorf("Status after post-cancel ticks = %q, want cancelled", snap.Status)
	}
}

func TestEngine_TickSkipsWhenLockHeld(t *testing.T) {
	eng := testEngine(t, t.TempDir())
	if err := eng.StartScan(); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	if err := eng.store.SetTransient(keyLock, 1, time.Minute); err != nil {
		t.Fatalf("SetTransient() error = %v", err)
	}
	if err := eng.Execute(context.Background()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	st, err := eng.loadState()
	if err != nil {
		t.Fatalf("loadState() error = %v", err)
	}
	if len(st.Completed) != 0 {
		t.Errorf("locked tick advanced the scan: %v", st.Completed)
	}
}

func TestEngine_ProgressWithoutScan(t *testing.T) {
	eng := testEngine(t, t.TempDir())

	snap, err := eng.Progress()
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if snap.Status != models.StatusIdle {
		t.Errorf("Status = %q, want idle", snap.Status)
	}
}

func TestEngine_ScanSingleFile(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "shell.php")
	writeTestFile(t, bad, "<?php eval(base64_decode($_POST['cmd'])); ?>")
	clean := filepath.Join(dir, "ok.php")
	writeTestFile(t, clean, "<?php echo 'fine'; ?>")

	eng := testEngine(t, dir)

	finding, err := eng.ScanSingleFile(context.Background(), bad)
	if err != nil {
		t.Fatalf("ScanSingleFile() error = %v", err)
	}
	if finding == nil {
		t.Fatal("ScanSingleFile() = nil for webshell")
	}
	if finding.Path != bad {
		t.Errorf("Path = %q, want %q", finding.Path, bad)
	}

	finding, err = eng.ScanSingleFile(context.Background(), clean)
	if err != nil {
		t.Fatalf("ScanSingleFile() error = %v", err)
	}
	if finding != nil {
		t.Errorf("ScanSingleFile() reported clean file: %+v", finding)
	}
}

func TestEngine_InterruptedTicksMatchUninterruptedScan(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 30; i++ {
		writeTestFile(t, filepath.Join(root, "inc", fmt.Sprintf("page%02d.php", i)),
			"<?php echo 'page'; ?>")
	}
	writeTestFile(t, filepath.Join(root, "uploads", "cache.php"),
		"<?php eval(base64_decode($_POST['cmd'])); ?>")

	base := testEngine(t, root)
	if err := base.StartScan(); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	want := runToCompletion(t, base)

	// The second engine runs the same tree under a clock that jumps
	// four seconds on every read, so every tick's budget expires after
	// a handful of checks and discovery and scanning are interrupted
	// mid-stream over and over.
	eng := testEngine(t, root)
	fake := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	eng.SetClock(func() time.Time {
		fake = fake.Add(4 * time.Second)
		return fake
	})
	if err := eng.StartScan(); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}

	ctx := context.Background()
	var got *models.Snapshot
	for i := 0; i < 300; i++ {
		if err := eng.Execute(ctx); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		snap, err := eng.Progress()
		if err != nil {
			t.Fatalf("Progress() error = %v", err)
		}
		if snap.Status != models.StatusRunning {
			got = snap
			break
		}
	}
	if got == nil {
		t.Fatal("interrupted scan did not finish within 300 ticks")
	}

	if got.Status != models.StatusCompleted {
		t.Fatalf("Status = %q, want completed", got.Status)
	}
	if got.Scanned != want.Scanned {
		t.Errorf("Scanned = %d, uninterrupted scan saw %d", got.Scanned, want.Scanned)
	}
	paths := func(snap *models.Snapshot) []string {
		var out []string
		for _, f := range snap.Findings {
			out = append(out, f.Path)
		}
		return out
	}
	gotPaths, wantPaths := paths(got), paths(want)
	if len(gotPaths) != len(wantPaths) {
		t.Fatalf("Findings = %v, uninterrupted scan found %v", gotPaths, wantPaths)
	}
	for i := range gotPaths {
		if gotPaths[i] != wantPaths[i] {
			t.Errorf("finding[%d] = %q, uninterrupted scan found %q", i, gotPaths[i], wantPaths[i])
		}
	}
}

func TestEngine_ExternalFilesUseFixedChunk(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for i := 0; i < 25; i++ {
		p := filepath.Join(dir, fmt.Sprintf("ext%02d.php", i))
		writeTestFile(t, p, "<?php echo 'fine'; ?>")
		files = append(files, p)
	}

	eng := testEngine(t, t.TempDir())
	st := models.NewScanState("chunk-width")
	st.Status = models.StatusRunning
	st.FileList = files
	st.TotalFiles = len(files)
	st.ExternalCount = len(files)
	st.Chunk = &models.ChunkState{Size: 50, TargetSeconds: 10}

	tk := &tick{engine: eng, start: eng.now(), deadline: eng.now().Add(time.Hour)}
	if err := eng.runMalwareScan(context.Background(), tk, st); err != nil {
		t.Fatalf("runMalwareScan() error = %v", err)
	}

	// External paths always advance by the fixed minimal chunk, never
	// the adaptive size.
	if st.ChunkStart != eng.cfg.ExternalChunkSize {
		t.Errorf("ChunkStart = %d, want %d", st.ChunkStart, eng.cfg.ExternalChunkSize)
	}
	if st.Chunk.Size != 50 {
		t.Errorf("adaptive size changed on external chunk: %d", st.Chunk.Size)
	}
}

func TestEngine_MidPhaseCancelWritesCancelledState(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, fmt.Sprintf("inc%02d.php", i))
		writeTestFile(t, p, "<?php echo 'fine'; ?>")
		files = append(files, p)
	}

	eng := testEngine(t, dir)
	st := models.NewScanState("mid-cancel")
	st.Status = models.StatusRunning
	st.FileList = files
	st.TotalFiles = len(files)
	st.Chunk = &models.ChunkState{Size: 50, TargetSeconds: 10}

	// The cancel flag appears while the phase is already running; the
	// phase must come back cancelled with cursors stripped, never as
	// resumable running state.
	if err := eng.store.Set(keyCancel, true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	tk := &tick{engine: eng, start: eng.now(), deadline: eng.now().Add(time.Hour)}
	if err := eng.runMalwareScan(context.Background(), tk, st); err != nil {
		t.Fatalf("runMalwareScan() error = %v", err)
	}

	if st.Status != models.StatusCancelled {
		t.Fatalf("Status = %q, want cancelled", st.Status)
	}
	if st.FileList != nil || st.Chunk != nil || st.Discovery != nil {
		t.Error("cancelled state still carries cursors")
	}
}

func TestEngine_ScanContent(t *testing.T) {
	eng := testEngine(t, t.TempDir())

	detections, err := eng.ScanContent(context.Background(),
		"<?php eval(base64_decode($_POST['cmd'])); ?>")
	if err != nil {
		t.Fatalf("ScanContent() error = %v", err)
	}
	if len(detections) == 0 {
		t.Fatal("ScanContent() found nothing in webshell text")
	}
	if !detections[0].WithoutAI {
		t.Error("ad hoc text scan must not consult the verdict service")
	}

	detections, err = eng.ScanContent(context.Background(), "plain harmless words")
	if err != nil {
		t.Fatalf("ScanContent() error = %v", err)
	}
	if len(detections) != 0 {
		t.Errorf("ScanContent() flagged harmless text: %d detections", len(detections))
	}
}
