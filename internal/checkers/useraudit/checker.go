// Package useraudit flags suspicious administrator accounts, detects
// admins hidden from the standard listing, and scans autoloaded options
// for injected code. A single odd trait on an account is common in
// legitimate setups, so account findings require two independent
// suspicion signals.
package useraudit

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Evjaj/purescan-sub000/internal/config"
	"github.com/Evjaj/purescan-sub000/internal/datasource"
	"github.com/Evjaj/purescan-sub000/internal/matcher"
	"github.com/Evjaj/purescan-sub000/internal/tokenizer"
	"github.com/Evjaj/purescan-sub000/pkg/models"
	"go.uber.org/zap"
)

// ownOptionPrefix is the scanner's own namespace in the options table.
const ownOptionPrefix = "purescan_"

// disposableDomains are throwaway email providers.
var disposableDomains = map[string]bool{
	"mailinator.com":    true,
	"guerrillamail.com": true,
	"10minutemail.com":  true,
	"tempmail.com":      true,
	"temp-mail.org":     true,
	"throwawaymail.com": true,
	"yopmail.com":       true,
	"sharklasers.com":   true,
	"getnada.com":       true,
	"dispostable.com":   true,
}

// backdoorLogin matches username shapes favored by automated account
// injectors.
var backdoorLogin = regexp.MustCompile(`(?i)^(?:wp[_-]?(?:admin|support|service|update|backup)\d*|admin[_-]?(?:temp|test|svc)\d*|[a-f0-9]{12,})$`)

// maliciousOptionNames are option keys known to be used as payload
// stashes.
var maliciousOptionNames = map[string]bool{
	"wp_check_hash":          true,
	"class_generic_support":  true,
	"widget_generic_support": true,
	"ftp_credentials":        true,
	"fwp":                    true,
	"rss_7988287e04915cf0d77e1d9394a7f08d": true,
}

// Checker audits admin accounts and autoloaded options.
type Checker struct {
	cfg     *config.Config
	matcher *matcher.Matcher
	tiers   models.ConfidenceTiers
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a user/option auditor.
func New(cfg *config.Config, logger *zap.Logger) *Checker {
	return &Checker{
		cfg:     cfg,
		matcher: matcher.New(cfg.SnippetWindow),
		tiers: models.ConfidenceTiers{
			Low:    cfg.ConfidenceLow,
			Medium: cfg.ConfidenceMedium,
			High:   cfg.ConfidenceHigh,
		},
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the checker's clock, used by account-age tests.
func (c *Checker) SetClock(now func() time.Time) {
	c.now = now
}

// CheckAccounts audits every administrator, requiring at least the
// configured number of co-occurring suspicion signals per account.
func (c *Checker) CheckAccounts(src datasource.Source) ([]*models.Finding, int, error) {
	admins, err := src.AdminUsers()
	if err != nil {
		return nil, 0, fmt.Errorf("user audit: %w", err)
	}

	var found []*models.Finding
	for _, u := range admins {
		signals := c.accountSignals(u)
		if len(signals) < c.cfg.AuditSignalMinimum {
			continue
		}
		c.logger.Warn("Suspicious administrator account",
			zap.String("login", u.Login),
			zap.Strings("signals", signals))
		found = append(found, c.accountFinding(u, signals, 60))
	}
	return found, len(admins), nil
}

// accountSignals collects the independent suspicion signals on one
// account.
func (c *Checker) accountSignals(u datasource.User) []string {
	var signals []string

	if at := strings.LastIndex(u.Email, "@"); at >= 0 {
		domain := strings.ToLower(u.Email[at+1:])
		if disposableDomains[domain] {
			signals = append(signals, "disposable email domain: "+domain)
		}
	}

	age := c.now().Sub(u.Registered)
	if !u.Registered.IsZero() && age < time.Duration(c.cfg.AuditRecentDays)*24*time.Hour {
		signals = append(signals, fmt.Sprintf("account created %d days ago", int(age.Hours()/24)))
	}

	if backdoorLogin.MatchString(u.Login) {
		signals = append(signals, "backdoor-style username")
	}

	if u.DisplayName != "" && !namesConsistent(u.Login, u.DisplayName) {
		signals = append(signals, "display name inconsistent with login")
	}

	return signals
}

// namesConsistent reports whether a display name plausibly belongs to the
// login: either contains the other, ignoring case and separators.
func namesConsistent(login, display string) bool {
	norm := func(s string) string {
		s = strings.ToLower(s)
		return strings.Map(func(r rune) rune {
			if r == ' ' || r == '.' || r == '-' || r == '_' {
				return -1
			}
			return r
		}, s)
	}
	l, d := norm(login), norm(display)
	return l == "" || d == "" || strings.Contains(d, l) || strings.Contains(l, d)
}

// CheckHiddenAdmins flags accounts present at the persistence layer but
// absent from the standard admin listing and matching a backdoor
// username shape. Malware filters the listing API; it cannot filter the
// metadata table itself.
func (c *Checker) CheckHiddenAdmins(src datasource.Source) ([]*models.Finding, int, error) {
	listed, err := src.AdminUsers()
	if err != nil {
		return nil, 0, fmt.Errorf("hidden admin audit: %w", err)
	}
	raw, err := src.AdminUsersRaw()
	if err != nil {
		return nil, 0, fmt.Errorf("hidden admin audit: %w", err)
	}

	visible := make(map[int64]bool, len(listed))
	for _, u := range listed {
		visible[u.ID] = true
	}

	var found []*models.Finding
	for _, u := range raw {
		if visible[u.ID] || !backdoorLogin.MatchString(u.Login) {
			continue
		}
		c.logger.Warn("Hidden administrator account",
			zap.String("login", u.Login),
			zap.Int64("id", u.ID))
		found = append(found, c.accountFinding(u, []string{"hidden from standard admin listing", "backdoor-style username"}, 95))
	}
	return found, len(raw), nil
}

// CheckOptions scans every autoloaded option value for dangerous code
// patterns and known malicious option names, skipping the scanner's own
// namespace.
func (c *Checker) CheckOptions(src datasource.Source, rules []*models.PatternRule, gate int) ([]*models.Finding, int, error) {
	opts, err := src.AutoloadedOptions()
	if err != nil {
		return nil, 0, fmt.Errorf("option audit: %w", err)
	}

	var found []*models.Finding
	checked := 0
	for _, opt := range opts {
		if strings.HasPrefix(opt.Name, ownOptionPrefix) {
			continue
		}
		checked++

		if maliciousOptionNames[opt.Name] {
			found = append(found, optionFinding(opt, []*models.Detection{{
				OriginalLine: 1,
				MatchedText:  opt.Name,
				Patterns:     []string{"Known malicious option name"},
				Score:        90,
				Confidence:   models.ConfidenceHigh,
				WithoutAI:    true,
			}}))
			continue
		}

		var stripped *tokenizer.StripResult
		if tokenizer.IsProbablyScriptLike(opt.Value) {
			stripped = tokenizer.StripWithLineMap(opt.Value)
		}
		raw := c.matcher.Match(opt.Value, stripped, rules)
		score := 0
		for _, m := range raw {
			score += m.Rule.Score
		}
		if score < gate {
			continue
		}

		var notes []string
		seen := make(map[string]bool)
		for _, m := range raw {
			if !seen[m.Rule.Note] {
				seen[m.Rule.Note] = true
				notes = append(notes, m.Rule.Note)
			}
		}
		found = append(found, optionFinding(opt, []*models.Detection{{
			OriginalLine: 1,
			MatchedText:  truncate(opt.Value, 200),
			Patterns:     notes,
			Score:        score,
			Confidence:   c.tiers.For(score),
			WithoutAI:    true,
		}}))
	}
	return found, checked, nil
}

func (c *Checker) accountFinding(u datasource.User, signals []string, score int) *models.Finding {
	return &models.Finding{
		Path:       fmt.Sprintf("Security → Suspicious Admin: %s", u.Login),
		IsDatabase: true,
		DBType:     "user",
		DBRowID:    u.ID,
		Snippets: []*models.Detection{{
			OriginalLine: 1,
			MatchedText:  u.Login,
			Patterns:     signals,
			Score:        score,
			Confidence:   c.tiers.For(score),
			WithoutAI:    true,
		}},
	}
}

func optionFinding(opt datasource.Option, snippets []*models.Detection) *models.Finding {
	return &models.Finding{
		Path:       fmt.Sprintf("Database → Option: %s", opt.Name),
		IsDatabase: true,
		DBType:     "option",
		DBColumn:   opt.Name,
		Snippets:   snippets,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
