package patterns

import (
	"context"
	"time"

	"github.com/Evjaj/purescan-sub000/internal/config"
	"github.com/Evjaj/purescan-sub000/internal/store"
	"github.com/Evjaj/purescan-sub000/pkg/models"
	"go.uber.org/zap"
)

const (
	keyRemoteCache = "patterns.remote"
	keyLocalCache  = "patterns.local"
	keyRemoteDown  = "patterns.remote_down"
)

// RemoteSource fetches the current rule set from the pattern service.
// Implementations handle token acquisition and integrity-proof headers.
type RemoteSource interface {
	FetchPatterns(ctx context.Context) ([]*models.PatternRule, error)
}

// cachedSet is the stored shape of a previously-fetched rule set.
type cachedSet struct {
	FetchedAt time.Time             `json:"fetched_at"`
	Rules     []*models.PatternRule `json:"rules"`
}

// Loader resolves the rule catalog through the cache chain.
type Loader struct {
	cfg    *config.Config
	store  store.Store
	remote RemoteSource
	logger *zap.Logger
	now    func() time.Time
}

// NewLoader creates a catalog loader. remote may be nil, in which case
// the chain skips straight from the remote cache to the local cache.
func NewLoader(cfg *config.Config, st store.Store, remote RemoteSource, logger *zap.Logger) *Loader {
	return &Loader{
		cfg:    cfg,
		store:  st,
		remote: remote,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the loader's clock, used by cache-expiry tests.
func (l *Loader) SetClock(now func() time.Time) {
	l.now = now
}

// Load returns the rule catalog for a scan, trying each tier in order:
//
//  1. the short-lived remote cache, if present and non-empty;
//  2. a fresh authenticated fetch, cached on success;
//  3. the long-lived local cache;
//  4. the bundled fallback set, always available.
//
// A failed remote attempt sets a backoff flag so ticks within that window
// do not retry the network.
func (l *Loader) Load(ctx context.Context) (*Catalog, error) {
	// Tier 1: fresh remote cache.
	var cached cachedSet
	if err := l.store.Get(keyRemoteCache, &cached); err == nil && len(cached.Rules) > 0 {
		maxAge := time.Duration(l.cfg.RemoteCacheHours) * time.Hour
		if l.now().Sub(cached.FetchedAt) < maxAge {
			if rules, err := Validate(cached.Rules); err == nil {
				return &Catalog{Rules: rules, Source: SourceRemoteCache}, nil
			}
		}
	}

	// Tier 2: fresh fetch, unless the backoff flag is up.
	if l.remote != nil {
		var down bool
		backoff := l.store.GetTransient(keyRemoteDown, &down) == nil
		if !backoff {
			if cat := l.fetchRemote(ctx); cat != nil {
				return cat, nil
			}
		}
	}

	// Tier 3: stale local cache.
	var local cachedSet
	if err := l.store.Get(keyLocalCache, &local); err == nil && len(local.Rules) > 0 {
		maxAge := time.Duration(l.cfg.LocalCacheDays) * 24 * time.Hour
		if l.now().Sub(local.FetchedAt) < maxAge {
			if rules, err := Validate(local.Rules); err == nil {
				l.logger.Info("Using local pattern cache",
					zap.Time("fetched_at", local.FetchedAt))
				return &Catalog{Rules: rules, Source: SourceLocalCache}, nil
			}
		}
	}

	// Tier 4: bundled fallback.
	cat, err := Bundled()
	if err != nil {
		return nil, err
	}
	l.logger.Warn("Falling back to bundled pattern set")
	return cat, nil
}

// fetchRemote performs the authenticated fetch and maintains the caches
// and the backoff flag. Returns nil on any failure; invalid payloads are
// rejected wholesale.
func (l *Loader) fetchRemote(ctx context.Context) *Catalog {
	rules, err := l.remote.FetchPatterns(ctx)
	if err == nil {
		rules, err = Validate(rules)
	}
	if err != nil {
		l.logger.Warn("Remote pattern fetch failed", zap.Error(err))
		backoff := time.Duration(l.cfg.RemoteBackoffHours) * time.Hour
		if serr := l.store.SetTransient(keyRemoteDown, true, backoff); serr != nil {
			l.logger.Warn("Failed to set remote backoff flag", zap.Error(serr))
		}
		return nil
	}

	set := cachedSet{FetchedAt: l.now(), Rules: rules}
	if err := l.store.Set(keyRemoteCache, set); err != nil {
		l.logger.Warn("Failed to cache remote patterns", zap.Error(err))
	}
	if err := l.store.Set(keyLocalCache, set); err != nil {
		l.logger.Warn("Failed to cache local patterns", zap.Error(err))
	}
	if err := l.store.DeleteTransient(keyRemoteDown); err != nil {
		l.logger.Debug("Failed to clear remote backoff flag", zap.Error(err))
	}

	l.logger.Info("Loaded remote pattern set", zap.Int("rules", len(rules)))
	return &Catalog{Rules: rules, Source: SourceRemote}
}
