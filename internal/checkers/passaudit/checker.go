// Package passaudit tests administrator password hashes against curated
// weak passwords, account-derived variants, and platform defaults. First
// match wins; one finding per compromised account.
package passaudit

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Evjaj/purescan-sub000/internal/config"
	"github.com/Evjaj/purescan-sub000/internal/datasource"
	"github.com/Evjaj/purescan-sub000/pkg/models"
	"go.uber.org/zap"
)

// Match-class scores. The curated list is the strongest signal: those
// passwords appear in every cracking dictionary.
const (
	scoreCurated = 100
	scoreDefault = 98
	scoreDerived = 95
)

// curatedWeak is the curated weak-password list.
var curatedWeak = []string{
	"password", "123456", "12345678", "123456789", "1234567890",
	"qwerty", "qwerty123", "abc123", "111111", "letmein",
	"welcome", "monkey", "dragon", "master", "iloveyou",
	"sunshine", "princess", "football", "shadow", "superman",
	"trustno1", "000000", "654321", "qazwsx", "password1",
	"password123", "p@ssw0rd", "passw0rd", "secret", "test",
}

// platformDefaults are guesses tied to stock installs.
var platformDefaults = []string{
	"admin", "admin123", "administrator", "root", "toor",
	"wordpress", "wp-admin", "changeme", "demo", "default",
}

// Checker audits administrator passwords.
type Checker struct {
	verifier HashVerifier
	tiers    models.ConfidenceTiers
	logger   *zap.Logger
}

// New creates a password checker.
func New(cfg *config.Config, verifier HashVerifier, logger *zap.Logger) *Checker {
	if verifier == nil {
		verifier = StandardVerifier{}
	}
	return &Checker{
		verifier: verifier,
		tiers: models.ConfidenceTiers{
			Low:    cfg.ConfidenceLow,
			Medium: cfg.ConfidenceMedium,
			High:   cfg.ConfidenceHigh,
		},
		logger: logger,
	}
}

// Check audits every administrator account, returning one finding per
// compromised account and the number of accounts examined.
func (c *Checker) Check(src datasource.Source) ([]*models.Finding, int, error) {
	admins, err := src.AdminUsers()
	if err != nil {
		return nil, 0, fmt.Errorf("password audit: %w", err)
	}

	siteURL, err := src.SiteURL()
	if err != nil {
		siteURL = ""
	}
	siteName, domain := siteIdentity(siteURL)

	var found []*models.Finding
	for _, u := range admins {
		score, guess := c.testAccount(u, siteName, domain)
		if score == 0 {
			continue
		}
		c.logger.Warn("Weak administrator password",
			zap.String("login", u.Login),
			zap.Int("score", score))
		found = append(found, c.weakPasswordFinding(u, score, guess))
	}
	return found, len(admins), nil
}

// testAccount runs the guess classes in order of strength; the first
// matching guess decides the score.
func (c *Checker) testAccount(u datasource.User, siteName, domain string) (int, string) {
	for _, guess := range curatedWeak {
		if c.verifier.Verify(guess, u.PassHash) {
			return scoreCurated, guess
		}
	}
	for _, guess := range platformDefaults {
		if c.verifier.Verify(guess, u.PassHash) {
			return scoreDefault, guess
		}
	}
	for _, guess := range derivedGuesses(u, siteName, domain) {
		if c.verifier.Verify(guess, u.PassHash) {
			return scoreDerived, guess
		}
	}
	return 0, ""
}

// derivedGuesses builds username-, site-, and domain-derived candidates.
func derivedGuesses(u datasource.User, siteName, domain string) []string {
	year := fmt.Sprintf("%d", time.Now().Year())
	bases := []string{strings.ToLower(u.Login)}
	if siteName != "" {
		bases = append(bases, strings.ToLower(siteName))
	}
	if domain != "" {
		bases = append(bases, strings.ToLower(domain))
	}

	var out []string
	seen := make(map[string]bool)
	add := func(g string) {
		if g != "" && !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	for _, b := range bases {
		add(b)
		add(b + "123")
		add(b + "!")
		add(b + "@")
		add(b + year)
		add(fmt.Sprintf("%s%d", b, u.ID))
	}
	return out
}

// siteIdentity extracts the site name and bare domain from the home URL.
func siteIdentity(siteURL string) (name, domain string) {
	if siteURL == "" {
		return "", ""
	}
	parsed, err := url.Parse(siteURL)
	if err != nil || parsed.Host == "" {
		return "", ""
	}
	host := strings.TrimPrefix(parsed.Host, "www.")
	domain = host
	if i := strings.Index(host, "."); i > 0 {
		name = host[:i]
	}
	return name, domain
}

// weakPasswordFinding wraps one compromised account as a finding.
func (c *Checker) weakPasswordFinding(u datasource.User, score int, guess string) *models.Finding {
	return &models.Finding{
		Path:       fmt.Sprintf("Security → Weak Password: %s", u.Login),
		IsDatabase: true,
		DBType:     "user",
		DBRowID:    u.ID,
		Snippets: []*models.Detection{{
			OriginalLine: 1,
			MatchedText:  guess,
			Patterns:     []string{"Weak administrator password"},
			Score:        score,
			Confidence:   c.tiers.For(score),
			WithoutAI:    true,
		}},
	}
}
