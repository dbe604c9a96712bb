package models

import "time"

// Status is the lifecycle state of a scan.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusSingle    Status = "single"
)

// Phase is one ordered stage of the scan state machine. Phases execute
// strictly in the order returned by PhaseOrder.
type Phase string

const (
	PhasePluginIntegrity Phase = "plugin_integrity"
	PhaseCoreIntegrity   Phase = "core_integrity"
	PhaseSpamvertising   Phase = "spamvertising"
	PhasePasswordAudit   Phase = "password_audit"
	PhaseUserAudit       Phase = "user_audit"
	PhaseDatabaseScan    Phase = "database_scan"
	PhaseDiscovery       Phase = "discovery"
	PhaseMalwareScan     Phase = "malware_scan"
	PhaseFinalize        Phase = "finalize"
)

// PhaseOrder returns every phase in execution order.
func PhaseOrder() []Phase {
	return []Phase{
		PhasePluginIntegrity,
		PhaseCoreIntegrity,
		PhaseSpamvertising,
		PhasePasswordAudit,
		PhaseUserAudit,
		PhaseDatabaseScan,
		PhaseDiscovery,
		PhaseMalwareScan,
		PhaseFinalize,
	}
}

// StepStatus summarizes how a completed phase went.
type StepStatus string

const (
	StepSuccess  StepStatus = "success"
	StepWarning  StepStatus = "warning"
	StepCritical StepStatus = "critical"
)

// StepCount is the per-phase summary written once a phase completes.
type StepCount struct {
	Checked int `json:"checked"`
	Found   int `json:"found"`
}

// IntegrityStage sub-stages an integrity phase so each tick stays cheap.
type IntegrityStage string

const (
	StageAnnounce IntegrityStage = "announce"
	StageFetch    IntegrityStage = "fetch"
	StageVerify   IntegrityStage = "verify"
	StageReport   IntegrityStage = "report"
)

// IntegrityState is the scratch state for an in-flight integrity phase.
// Present only while the phase is active.
type IntegrityState struct {
	Stage    IntegrityStage    `json:"stage"`
	Manifest map[string]string `json:"manifest,omitempty"` // relative path -> expected hash
	Pending  []string          `json:"pending,omitempty"`  // paths still to verify
	Modified []string          `json:"modified,omitempty"`
}

// DiscoveryRoot identifies which enumeration pass is running.
type DiscoveryRoot string

const (
	RootExternal DiscoveryRoot = "external"
	RootInternal DiscoveryRoot = "internal"
)

// DiscoveryState is the scratch state for the file-discovery phase.
type DiscoveryState struct {
	Root          DiscoveryRoot `json:"root"`
	PendingRoots  []string      `json:"pending_roots,omitempty"`
	ExternalFiles []string      `json:"external_files,omitempty"`
	InternalFiles []string      `json:"internal_files,omitempty"`
	Seen          []string      `json:"seen,omitempty"` // resolved real paths already enumerated
}

// DatabaseState is the cursor for the database deep-scan phase.
type DatabaseState struct {
	TargetIndex int   `json:"target_index"` // index into configured table/column list
	Offset      int64 `json:"offset"`       // row offset within the current target
}

// ContentAuditState tracks batched progress through posts and comments.
type ContentAuditState struct {
	PostOffset     int64 `json:"post_offset"`
	CommentOffset  int64 `json:"comment_offset"`
	PostsDone      bool  `json:"posts_done"`
	CommentsDone   bool  `json:"comments_done"`
	CheckedSoFar   int   `json:"checked_so_far"`
	FoundSoFar     int   `json:"found_so_far"`
	InternalErrors int   `json:"internal_errors"`
}

// ChunkState carries the adaptive chunk-sizing history across ticks.
type ChunkState struct {
	Size            int     `json:"size"`
	TargetSeconds   float64 `json:"target_seconds"`
	ConsecutiveFast int     `json:"consecutive_fast"`
	LastDuration    float64 `json:"last_duration,omitempty"`
}

// ScanState is the single persisted record driving resumption. It is
// loaded at the start of every tick, mutated in memory, and written back
// whole before the tick returns.
type ScanState struct {
	ID          string    `json:"id"` // scan run identifier
	Status      Status    `json:"status"`
	CurrentStep Phase     `json:"current_step"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`

	// Phase completion flags; a phase whose flag is set is skipped.
	Completed map[Phase]bool `json:"completed"`

	// Phase-local scratch state, nil when the owning phase is inactive.
	Integrity    *IntegrityState    `json:"integrity,omitempty"`
	ContentAudit *ContentAuditState `json:"content_audit,omitempty"`
	Database     *DatabaseState     `json:"database,omitempty"`
	Discovery    *DiscoveryState    `json:"discovery,omitempty"`
	Chunk        *ChunkState        `json:"chunk,omitempty"`

	// Malware-scan cursor and work queue. ChunkStart is always a valid
	// index into FileList or equal to TotalFiles (phase complete).
	ChunkStart    int      `json:"chunk_start"`
	FileList      []string `json:"file_list,omitempty"`
	ExternalCount int      `json:"external_count"` // FileList[:ExternalCount] are external paths
	TotalFiles    int      `json:"total_files"`

	Findings []*Finding `json:"findings"`

	Scanned    int `json:"scanned"`
	Suspicious int `json:"suspicious"`
	Progress   int `json:"progress"` // 0-100
	Errors     int `json:"errors"`

	StepCounts map[Phase]StepCount  `json:"step_counts"`
	StepStatus map[Phase]StepStatus `json:"step_status"`
	StepError  map[Phase]string     `json:"step_error,omitempty"`

	Message string `json:"message,omitempty"` // final human-readable summary
}

// NewScanState returns an initialized idle state.
func NewScanState(id string) *ScanState {
	return &ScanState{
		ID:          id,
		Status:      StatusIdle,
		CurrentStep: PhasePluginIntegrity,
		Completed:   make(map[Phase]bool),
		StepCounts:  make(map[Phase]StepCount),
		StepStatus:  make(map[Phase]StepStatus),
		StepError:   make(map[Phase]string),
	}
}

// NextPhase returns the first phase whose completion flag is not set.
func (s *ScanState) NextPhase() Phase {
	for _, p := range PhaseOrder() {
		if !s.Completed[p] {
			return p
		}
	}
	return PhaseFinalize
}

// CompletePhase marks a phase done and records its summary.
func (s *ScanState) CompletePhase(p Phase, count StepCount, status StepStatus) {
	s.Completed[p] = true
	s.StepCounts[p] = count
	s.StepStatus[p] = status
}

// HasFinding reports whether a finding for the given path already exists.
// Used to keep interrupted-and-resumed chunks idempotent.
func (s *ScanState) HasFinding(path string) bool {
	for _, f := range s.Findings {
		if f.Path == path {
			return true
		}
	}
	return false
}

// StripCursors removes every resumable cursor field, leaving findings and
// per-phase summaries intact. Called when a scan is cancelled.
func (s *ScanState) StripCursors() {
	s.Integrity = nil
	s.ContentAudit = nil
	s.Database = nil
	s.Discovery = nil
	s.Chunk = nil
	s.FileList = nil
	s.ChunkStart = 0
	s.TotalFiles = 0
	s.ExternalCount = 0
}

// Snapshot is the read-only progress view handed to UI glue.
type Snapshot struct {
	ID         string               `json:"id"`
	Status     Status               `json:"status"`
	Phase      Phase                `json:"phase"`
	Progress   int                  `json:"progress"`
	Scanned    int                  `json:"scanned"`
	Suspicious int                  `json:"suspicious"`
	Errors     int                  `json:"errors"`
	Findings   []*Finding           `json:"findings"`
	StepCounts map[Phase]StepCount  `json:"step_counts"`
	StepStatus map[Phase]StepStatus `json:"step_status"`
	Message    string               `json:"message,omitempty"`
}

// Snapshot builds a progress view from the state.
func (s *ScanState) Snapshot() *Snapshot {
	return &Snapshot{
		ID:         s.ID,
		Status:     s.Status,
		Phase:      s.CurrentStep,
		Progress:   s.Progress,
		Scanned:    s.Scanned,
		Suspicious: s.Suspicious,
		Errors:     s.Errors,
		Findings:   s.Findings,
		StepCounts: s.StepCounts,
		StepStatus: s.StepStatus,
		Message:    s.Message,
	}
}
