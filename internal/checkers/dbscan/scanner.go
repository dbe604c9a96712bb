// Package dbscan runs the full pattern pipeline over configured
// high-value database columns, one fixed-size batch at a time.
package dbscan

import (
	"context"
	"fmt"

	"github.com/Evjaj/purescan-sub000/internal/config"
	"github.com/Evjaj/purescan-sub000/internal/datasource"
	"github.com/Evjaj/purescan-sub000/internal/findings"
	"github.com/Evjaj/purescan-sub000/internal/matcher"
	"github.com/Evjaj/purescan-sub000/internal/tokenizer"
	"github.com/Evjaj/purescan-sub000/pkg/models"
	"go.uber.org/zap"
)

// Scanner deep-scans database content.
type Scanner struct {
	cfg     *config.Config
	matcher *matcher.Matcher
	builder *findings.Builder
	logger  *zap.Logger
}

// New creates a deep scanner sharing the file pipeline's matcher and
// builder.
func New(cfg *config.Config, m *matcher.Matcher, b *findings.Builder, logger *zap.Logger) *Scanner {
	return &Scanner{cfg: cfg, matcher: m, builder: b, logger: logger}
}

// BatchResult reports one processed batch.
type BatchResult struct {
	Findings []*models.Finding
	Rows     int  // rows read in this batch
	Done     bool // true when the target is exhausted
}

// ScanBatch processes one batch of the given target starting at offset.
// Only textual values at or above the configured minimum length are
// scanned; tokenization runs only when the value looks like script
// source. Never more than one batch is held in memory.
func (s *Scanner) ScanBatch(ctx context.Context, src datasource.Source, target config.DeepScanTarget, offset int64, rules []*models.PatternRule) (*BatchResult, error) {
	rows, err := src.IterateColumn(target.Table, target.IDCol, target.Column, offset, s.cfg.DeepScanBatch)
	if err != nil {
		return nil, fmt.Errorf("deep scan %s.%s: %w", target.Table, target.Column, err)
	}

	res := &BatchResult{
		Rows: len(rows),
		Done: len(rows) < s.cfg.DeepScanBatch,
	}

	for _, row := range rows {
		if len(row.Value) < s.cfg.DeepScanMinChars {
			continue
		}

		var stripped *tokenizer.StripResult
		if tokenizer.IsProbablyScriptLike(row.Value) {
			stripped = tokenizer.StripWithLineMap(row.Value)
		}

		raw := s.matcher.Match(row.Value, stripped, rules)
		detections, err := s.builder.Build(ctx, row.Value, raw, true)
		if err != nil {
			s.logger.Warn("Deep scan row failed",
				zap.String("table", target.Table),
				zap.Int64("row", row.ID),
				zap.Error(err))
			continue
		}
		if len(detections) == 0 {
			continue
		}

		res.Findings = append(res.Findings, &models.Finding{
			Path: fmt.Sprintf("Database → Table: %s → Row ID: %d → Column: %s",
				target.Table, row.ID, target.Column),
			Snippets:   detections,
			IsDatabase: true,
			DBType:     "deep_scan",
			DBTable:    target.Table,
			DBRowID:    row.ID,
			DBColumn:   target.Column,
		})
	}

	return res, nil
}
