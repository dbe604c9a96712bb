// Package engine drives the resumable scan state machine. Each call to
// Execute performs one bounded slice of work inside a strict wall-clock
// budget, persists the whole scan state, and relies on the next external
// trigger to continue.
package engine

import (
	"fmt"
	"time"

	"github.com/Evjaj/purescan-sub000/internal/ai"
	"github.com/Evjaj/purescan-sub000/internal/checkers/dbscan"
	"github.com/Evjaj/purescan-sub000/internal/checkers/passaudit"
	"github.com/Evjaj/purescan-sub000/internal/checkers/spamvert"
	"github.com/Evjaj/purescan-sub000/internal/checkers/useraudit"
	"github.com/Evjaj/purescan-sub000/internal/config"
	"github.com/Evjaj/purescan-sub000/internal/datasource"
	"github.com/Evjaj/purescan-sub000/internal/deobfuscator"
	"github.com/Evjaj/purescan-sub000/internal/discovery"
	"github.com/Evjaj/purescan-sub000/internal/findings"
	"github.com/Evjaj/purescan-sub000/internal/matcher"
	"github.com/Evjaj/purescan-sub000/internal/patterns"
	"github.com/Evjaj/purescan-sub000/internal/remote"
	"github.com/Evjaj/purescan-sub000/internal/store"
	"github.com/Evjaj/purescan-sub000/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store keys owned by the engine.
const (
	keyState       = "scan.state"
	keyLock        = "scan.lock"
	keyCancel      = "scan.cancel_pending"
	keyCancelForce = "scan.cancel_force"
)

// cancelForceTTL bounds how long the force transient outlives the cancel
// request.
const cancelForceTTL = 30 * time.Second

// cancelRewrites is how many times the enforcer rewrites cancelled state
// to beat an in-flight tick writing stale state back.
const cancelRewrites = 3

// Engine owns the scan state machine and its collaborators.
type Engine struct {
	cfg    *config.Config
	store  store.Store
	logger *zap.Logger

	loader  *patterns.Loader
	remote  *remote.Client
	walker  *discovery.Walker
	matcher *matcher.Matcher
	builder *findings.Builder
	deob    *deobfuscator.Pipeline

	source   datasource.Source // nil when no database is configured
	spamvert *spamvert.Checker
	passwd   *passaudit.Checker
	users    *useraudit.Checker
	deep     *dbscan.Scanner

	now func() time.Time
}

// Options bundles the collaborators an Engine needs. Source and Verdict
// may be nil; the corresponding phases degrade gracefully.
type Options struct {
	Config  *config.Config
	Store   store.Store
	Logger  *zap.Logger
	Remote  *remote.Client
	Source  datasource.Source
	Verdict ai.VerdictClient
}

// New assembles an engine from its collaborators.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil || opts.Store == nil || opts.Logger == nil {
		return nil, fmt.Errorf("engine: config, store, and logger are required")
	}

	m := matcher.New(opts.Config.SnippetWindow)
	b := findings.NewBuilder(opts.Config, opts.Verdict, opts.Logger)

	spam, err := spamvert.New(opts.Config, opts.Logger)
	if err != nil {
		return nil, err
	}

	var remoteSrc patterns.RemoteSource
	if opts.Remote != nil {
		remoteSrc = opts.Remote
	}

	return &Engine{
		cfg:      opts.Config,
		store:    opts.Store,
		logger:   opts.Logger,
		loader:   patterns.NewLoader(opts.Config, opts.Store, remoteSrc, opts.Logger),
		remote:   opts.Remote,
		walker:   discovery.NewWalker(opts.Config, opts.Logger),
		matcher:  m,
		builder:  b,
		deob:     deobfuscator.NewPipeline(),
		source:   opts.Source,
		spamvert: spam,
		passwd:   passaudit.New(opts.Config, nil, opts.Logger),
		users:    useraudit.New(opts.Config, opts.Logger),
		deep:     dbscan.New(opts.Config, m, b, opts.Logger),
		now:      time.Now,
	}, nil
}

// SetClock overrides the engine's clock, used by budget and chunk tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// StartScan creates a fresh running scan. Returns an error when a scan is
// already running.
func (e *Engine) StartScan() error {
	st, err := e.loadState()
	if err == nil && st.Status == models.StatusRunning {
		return fmt.Errorf("a scan is already running")
	}

	st = models.NewScanState(uuid.NewString())
	st.Status = models.StatusRunning
	st.StartedAt = e.now()

	if err := e.store.Delete(keyCancel); err != nil {
		return err
	}
	if err := e.saveState(st); err != nil {
		return err
	}

	e.logger.Info("Scan started", zap.String("id", st.ID))
	return nil
}

// CancelScan requests cancellation: a durable pending flag plus a
// short-TTL force transient, then an immediate enforcement pass.
func (e *Engine) CancelScan() error {
	if err := e.store.Set(keyCancel, true); err != nil {
		return err
	}
	if err := e.store.SetTransient(keyCancelForce, true, cancelForceTTL); err != nil {
		return err
	}
	return e.EnforceCancel()
}

// EnforceCancel is the repetitive cancel enforcer. It is idempotent and
// safe to trigger from anywhere: on a pending cancel it rewrites the
// state to cancelled several times in quick succession, strips every
// resumable cursor, and clears all locks, so a cancelled scan can never
// silently resume even if an in-flight tick writes stale state back.
func (e *Engine) EnforceCancel() error {
	var pending bool
	if err := e.store.Get(keyCancel, &pending); err != nil || !pending {
		return nil
	}

	for i := 0; i < cancelRewrites; i++ {
		st, err := e.loadState()
		if err != nil {
			break
		}
		if st.Status == models.StatusRunning || i == 0 {
			st.Status = models.StatusCancelled
			st.FinishedAt = e.now()
			st.StripCursors()
			if err := e.saveState(st); err != nil {
				return err
			}
		}
	}

	if err := e.store.DeleteTransient(keyLock); err != nil {
		return err
	}
	if err := e.store.Delete(keyCancel); err != nil {
		return err
	}
	if err := e.store.DeleteTransient(keyCancelForce); err != nil {
		return err
	}

	e.logger.Info("Scan cancelled")
	return nil
}

// Progress returns a snapshot of the current scan state.
func (e *Engine) Progress() (*models.Snapshot, error) {
	st, err := e.loadState()
	if err != nil {
		if err == store.ErrNotFound {
			return models.NewScanState("").Snapshot(), nil
		}
		return nil, err
	}
	return st.Snapshot(), nil
}

func (e *Engine) loadState() (*models.ScanState, error) {
	var st models.ScanState
	if err := e.store.Get(keyState, &st); err != nil {
		return nil, err
	}
	if st.Completed == nil {
		st.Completed = make(map[models.Phase]bool)
	}
	if st.StepCounts == nil {
		st.StepCounts = make(map[models.Phase]models.StepCount)
	}
	if st.StepStatus == nil {
		st.StepStatus = make(map[models.Phase]models.StepStatus)
	}
	if st.StepError == nil {
		st.StepError = make(map[models.Phase]string)
	}
	return &st, nil
}

func (e *Engine) saveState(st *models.ScanState) error {
	return e.store.Set(keyState, st)
}

// cancelRequested re-reads the authoritative cancel flags. Loops poll
// this at bounded intervals so cancellation latency is bounded by the
// polling granularity, not phase size.
func (e *Engine) cancelRequested() bool {
	var v bool
	if err := e.store.GetTransient(keyCancelForce, &v); err == nil && v {
		return true
	}
	if err := e.store.Get(keyCancel, &v); err == nil && v {
		return true
	}
	return false
}
