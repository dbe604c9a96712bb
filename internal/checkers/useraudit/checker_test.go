package useraudit

import (
	"strings"
	"testing"
	"time"

	"github.com/Evjaj/purescan-sub000/internal/config"
	"github.com/Evjaj/purescan-sub000/internal/datasource"
	"github.com/Evjaj/purescan-sub000/pkg/models"
	"go.uber.org/zap"
)

// userSource serves fixed users and options.
type userSource struct {
	listed  []datasource.User
	raw     []datasource.User
	options []datasource.Option
}

func (s *userSource) Posts(offset, limit int64) ([]datasource.Post, error) { return nil, nil }
func (s *userSource) Comments(offset, limit int64) ([]datasource.Comment, error) {
	return nil, nil
}
func (s *userSource) AdminUsers() ([]datasource.User, error)          { return s.listed, nil }
func (s *userSource) AdminUsersRaw() ([]datasource.User, error)       { return s.raw, nil }
func (s *userSource) AutoloadedOptions() ([]datasource.Option, error) { return s.options, nil }
func (s *userSource) IterateColumn(table, idCol, column string, offset int64, limit int) ([]datasource.Row, error) {
	return nil, nil
}
func (s *userSource) SiteURL() (string, error) { return "http://example.test", nil }

func auditChecker(t *testing.T) *Checker {
	t.Helper()
	cfg := &config.Config{
		AuditSignalMinimum: 2,
		AuditRecentDays:    45,
		SnippetWindow:      250,
		ConfidenceLow:      20,
		ConfidenceMedium:   55,
		ConfidenceHigh:     85,
	}
	c := New(cfg, zap.NewNop())
	c.SetClock(func() time.Time {
		return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	})
	return c
}

func TestCheckAccounts_RequiresTwoSignals(t *testing.T) {
	c := auditChecker(t)

	// One signal only: recent registration on an otherwise normal
	// account must not be reported.
	oneSignal := &userSource{listed: []datasource.User{{
		ID:          1,
		Login:       "jane",
		Email:       "jane@company.test",
		DisplayName: "Jane",
		Registered:  time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC),
	}}}
	found, checked, err := c.CheckAccounts(oneSignal)
	if err != nil {
		t.Fatalf("CheckAccounts() error = %v", err)
	}
	if checked != 1 {
		t.Errorf("checked = %d, want 1", checked)
	}
	if len(found) != 0 {
		t.Errorf("one signal produced %d findings, want 0", len(found))
	}

	// Recent registration plus a disposable email crosses the bar.
	twoSignals := &userSource{listed: []datasource.User{{
		ID:         2,
		Login:      "newadmin",
		Email:      "x@mailinator.com",
		Registered: time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC),
	}}}
	found, _, err = c.CheckAccounts(twoSignals)
	if err != nil {
		t.Fatalf("CheckAccounts() error = %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("two signals produced %d findings, want 1", len(found))
	}
	if len(found[0].Snippets[0].Patterns) != 2 {
		t.Errorf("signals recorded = %v, want 2", found[0].Snippets[0].Patterns)
	}
	if found[0].Snippets[0].Confidence != models.ConfidenceMedium {
		t.Errorf("Confidence = %q, want medium", found[0].Snippets[0].Confidence)
	}
}

func TestCheckAccounts_OldCleanAccount(t *testing.T) {
	c := auditChecker(t)

	src := &userSource{listed: []datasource.User{{
		ID:          3,
		Login:       "siteowner",
		Email:       "owner@company.test",
		DisplayName: "Site Owner",
		Registered:  time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
	}}}
	found, _, err := c.CheckAccounts(src)
	if err != nil {
		t.Fatalf("CheckAccounts() error = %v", err)
	}
	if len(found) != 0 {
		t.Errorf("clean account produced %d findings", len(found))
	}
}

func TestBackdoorLogin(t *testing.T) {
	tests := []struct {
		login string
		want  bool
	}{
		{"wp_support", true},
		{"wp-admin2", true},
		{"admin_temp", true},
		{"adminsvc", true},
		{"deadbeefdeadbeef", true}, // hex-blob username
		{"jane.doe", false},
		{"administrator", false},
	}
	for _, tt := range tests {
		if got := backdoorLogin.MatchString(tt.login); got != tt.want {
			t.Errorf("backdoorLogin(%q) = %v, want %v", tt.login, got, tt.want)
		}
	}
}

func TestCheckHiddenAdmins(t *testing.T) {
	c := auditChecker(t)

	src := &userSource{
		listed: []datasource.User{
			{ID: 1, Login: "siteowner"},
		},
		raw: []datasource.User{
			{ID: 1, Login: "siteowner"},
			{ID: 50, Login: "wp_support1"}, // hidden, backdoor shape
			{ID: 51, Login: "helper"},      // hidden but normal name
		},
	}

	found, checked, err := c.CheckHiddenAdmins(src)
	if err != nil {
		t.Fatalf("CheckHiddenAdmins() error = %v", err)
	}
	if checked != 3 {
		t.Errorf("checked = %d, want 3", checked)
	}
	if len(found) != 1 {
		t.Fatalf("CheckHiddenAdmins() = %d findings, want 1", len(found))
	}
	if found[0].DBRowID != 50 {
		t.Errorf("DBRowID = %d, want 50", found[0].DBRowID)
	}
	if found[0].Snippets[0].Score != 95 {
		t.Errorf("Score = %d, want 95", found[0].Snippets[0].Score)
	}
}

func TestCheckHiddenAdmins_TiersFollowConfig(t *testing.T) {
	cfg := &config.Config{
		AuditSignalMinimum: 2,
		AuditRecentDays:    45,
		SnippetWindow:      250,
		ConfidenceLow:      20,
		ConfidenceMedium:   55,
		ConfidenceHigh:     96, // above the hidden-admin score
	}
	c := New(cfg, zap.NewNop())

	src := &userSource{
		listed: []datasource.User{{ID: 1, Login: "siteowner"}},
		raw: []datasource.User{
			{ID: 1, Login: "siteowner"},
			{ID: 50, Login: "wp_support1"},
		},
	}

	found, _, err := c.CheckHiddenAdmins(src)
	if err != nil {
		t.Fatalf("CheckHiddenAdmins() error = %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("CheckHiddenAdmins() = %d findings, want 1", len(found))
	}
	if got := found[0].Snippets[0].Confidence; got != models.ConfidenceMedium {
		t.Errorf("Confidence = %q, want medium with raised threshold", got)
	}
}

func TestCheckOptions(t *testing.T) {
	c := auditChecker(t)
	rules := []*models.PatternRule{
		{Regex: `eval\s*\(base64_decode\s*\(`, Score: 60, Note: "Encoded eval payload", Context: models.ContextRaw},
	}
	for _, r := range rules {
		if err := r.Compile(); err != nil {
			t.Fatalf("Compile() failed: %v", err)
		}
	}

	src := &userSource{options: []datasource.Option{
		{Name: "siteurl", Value: "http://example.test"},
		{Name: "purescan_state", Value: "eval(base64_decode('ignored, own namespace'))"},
		{Name: "wp_check_hash", Value: "whatever"},
		{Name: "widget_html", Value: "<?php eval(base64_decode($_POST['p'])); ?>"},
	}}

	found, checked, err := c.CheckOptions(src, rules, 20)
	if err != nil {
		t.Fatalf("CheckOptions() error = %v", err)
	}
	if checked != 3 {
		t.Errorf("checked = %d, want 3 (own namespace skipped)", checked)
	}
	if len(found) != 2 {
		t.Fatalf("CheckOptions() = %d findings, want 2", len(found))
	}

	byPath := make(map[string]*models.Finding)
	for _, f := range found {
		byPath[f.Path] = f
	}
	if f := byPath["Database → Option: wp_check_hash"]; f == nil {
		t.Error("known malicious option name not reported")
	} else if f.Snippets[0].Score != 90 {
		t.Errorf("known-name Score = %d, want 90", f.Snippets[0].Score)
	}
	if f := byPath["Database → Option: widget_html"]; f == nil {
		t.Error("injected option value not reported")
	} else if !strings.Contains(strings.Join(f.Snippets[0].Patterns, " "), "Encoded eval payload") {
		t.Errorf("pattern note missing: %v", f.Snippets[0].Patterns)
	}
}

func TestNamesConsistent(t *testing.T) {
	tests := []struct {
		login   string
		display string
		want    bool
	}{
		{"jane.doe", "Jane Doe", true},
		{"admin", "Administrator", true},
		{"siteowner", "Bob", false},
		{"bob", "", true},
	}
	for _, tt := range tests {
		if got := namesConsistent(tt.login, tt.display); got != tt.want {
			t.Errorf("namesConsistent(%q, %q) = %v, want %v", tt.login, tt.display, got, tt.want)
		}
	}
}
