package spamvert

import (
	"strings"
	"testing"

	"github.com/Evjaj/purescan-sub000/internal/config"
	"github.com/Evjaj/purescan-sub000/internal/datasource"
	"github.com/Evjaj/purescan-sub000/pkg/models"
	"go.uber.org/zap"
)

func spamConfig() *config.Config {
	return &config.Config{
		GlobalScoreGate:    20,
		SpamTierMedium:     60,
		SpamTierHigh:       80,
		SpamTierVeryHigh:   95,
		SpamKeywordRepeats: 9,
		SpamMergeChars:     400,
		SnippetWindow:      250,
	}
}

func newChecker(t *testing.T) *Checker {
	t.Helper()
	c, err := New(spamConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

func TestCheckContent_Clean(t *testing.T) {
	c := newChecker(t)

	got := c.CheckContent("A perfectly ordinary blog post about sourdough baking.")
	if got != nil {
		t.Errorf("CheckContent() = %d detections, want none", len(got))
	}
}

func TestCheckContent_PharmaKeyword(t *testing.T) {
	c := newChecker(t)

	got := c.CheckContent("Great deals, buy viagra online today")
	if len(got) != 1 {
		t.Fatalf("CheckContent() = %d detections, want 1", len(got))
	}
	if got[0].Score != 45 {
		t.Errorf("Score = %d, want 45", got[0].Score)
	}
	if got[0].Confidence != models.ConfidenceLow {
		t.Errorf("Confidence = %q, want low", got[0].Confidence)
	}
	if !got[0].WithoutAI {
		t.Error("WithoutAI = false, want true for content checks")
	}
}

func TestCheckContent_KeywordStuffing(t *testing.T) {
	c := newChecker(t)

	content := strings.Repeat("viagra offer here ", 9)
	got := c.CheckContent(content)
	if len(got) != 1 {
		t.Fatalf("CheckContent() = %d detections, want 1 merged", len(got))
	}
	// Pharma keyword (45) counted once plus the stuffing signal (35).
	if got[0].Score != 80 {
		t.Errorf("Score = %d, want 80", got[0].Score)
	}
	if got[0].Confidence != models.ConfidenceHigh {
		t.Errorf("Confidence = %q, want high", got[0].Confidence)
	}

	stuffed := false
	for _, note := range got[0].Patterns {
		if strings.Contains(note, "Keyword stuffing") {
			stuffed = true
		}
	}
	if !stuffed {
		t.Errorf("stuffing note missing from %v", got[0].Patterns)
	}
}

func TestCheckContent_RepeatsBelowThreshold(t *testing.T) {
	c := newChecker(t)

	content := strings.Repeat("viagra special ", 3)
	got := c.CheckContent(content)
	if len(got) != 1 {
		t.Fatalf("CheckContent() = %d detections, want 1", len(got))
	}
	if got[0].Score != 45 {
		t.Errorf("Score = %d, want 45 without stuffing signal", got[0].Score)
	}
}

func TestCheckContent_HiddenIframe(t *testing.T) {
	c := newChecker(t)

	content := `<p>hello</p><iframe src="http://spam.example/inject" width="0" height="0"></iframe>`
	got := c.CheckContent(content)
	if len(got) != 1 {
		t.Fatalf("CheckContent() = %d detections, want 1", len(got))
	}
	if got[0].Score < 60 {
		t.Errorf("Score = %d, want >= 60 for hidden iframe", got[0].Score)
	}
}

func TestCheckContent_DistantMatchesSeparateClusters(t *testing.T) {
	c := newChecker(t)

	// The gap must not trip any rule itself (a long run of word
	// characters reads as an embedded blob), only separate the clusters.
	gap := strings.Repeat("lorem ipsum dolor sit amet. ", 20)
	content := "online casino bonus" + gap + "payday loan offers"
	got := c.CheckContent(content)
	if len(got) != 2 {
		t.Fatalf("CheckContent() = %d detections, want 2 clusters", len(got))
	}
}

// fakeSource implements datasource.Source over fixed slices.
type fakeSource struct {
	posts    []datasource.Post
	comments []datasource.Comment
}

func (f *fakeSource) Posts(offset, limit int64) ([]datasource.Post, error) {
	return page(f.posts, offset, limit), nil
}

func (f *fakeSource) Comments(offset, limit int64) ([]datasource.Comment, error) {
	return page(f.comments, offset, limit), nil
}

func (f *fakeSource) AdminUsers() ([]datasource.User, error)    { return nil, nil }
func (f *fakeSource) AdminUsersRaw() ([]datasource.User, error) { return nil, nil }
func (f *fakeSource) AutoloadedOptions() ([]datasource.Option, error) {
	return nil, nil
}
func (f *fakeSource) IterateColumn(table, idCol, column string, offset int64, limit int) ([]datasource.Row, error) {
	return nil, nil
}
func (f *fakeSource) SiteURL() (string, error) { return "http://example.test", nil }

func page[T any](items []T, offset, limit int64) []T {
	if offset >= int64(len(items)) {
		return nil
	}
	end := offset + limit
	if end > int64(len(items)) {
		end = int64(len(items))
	}
	return items[offset:end]
}

func TestScanPosts_FindingShape(t *testing.T) {
	c := newChecker(t)
	src := &fakeSource{posts: []datasource.Post{
		{ID: 7, Title: "ok", Content: "normal content"},
		{ID: 12, Title: "spam", Content: "buy viagra online, online casino bonus inside"},
	}}

	found, checked, err := c.ScanPosts(src, "wp_", 0, 10)
	if err != nil {
		t.Fatalf("ScanPosts() error = %v", err)
	}
	if checked != 2 {
		t.Errorf("checked = %d, want 2", checked)
	}
	if len(found) != 1 {
		t.Fatalf("ScanPosts() = %d findings, want 1", len(found))
	}

	f := found[0]
	if f.Path != "Database → Table: wp_posts → Row ID: 12 → Column: post_content" {
		t.Errorf("Path = %q", f.Path)
	}
	if !f.IsDatabase || f.DBType != "post" || f.DBRowID != 12 {
		t.Errorf("finding misidentified: %+v", f)
	}
}

func TestScanComments_AnonymousFieldsScanned(t *testing.T) {
	c := newChecker(t)
	src := &fakeSource{comments: []datasource.Comment{
		{
			ID:          3,
			UserID:      0,
			AuthorName:  "cheap jersey outlet",
			AuthorEmail: "spam@mail.test",
			AuthorURL:   "http://bit.ly/zzz",
			Content:     "nice post!",
		},
		{
			ID:      4,
			UserID:  9,
			Content: "registered user comment, nothing to see",
		},
	}}

	found, checked, err := c.ScanComments(src, "wp_", 0, 10)
	if err != nil {
		t.Fatalf("ScanComments() error = %v", err)
	}
	if checked != 2 {
		t.Errorf("checked = %d, want 2", checked)
	}
	if len(found) != 1 {
		t.Fatalf("ScanComments() = %d findings, want 1", len(found))
	}
	if found[0].DBRowID != 3 {
		t.Errorf("DBRowID = %d, want 3 (anonymous comment)", found[0].DBRowID)
	}
}
