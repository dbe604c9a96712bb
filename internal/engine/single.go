package engine

import (
	"context"

	"github.com/Evjaj/purescan-sub000/internal/tokenizer"
	"github.com/Evjaj/purescan-sub000/pkg/models"
)

// ScanSingleFile runs the full file pipeline against one path, outside
// any persisted scan. It never touches scan state and is safe to call
// while a background scan is in flight.
func (e *Engine) ScanSingleFile(ctx context.Context, path string) (*models.Finding, error) {
	cat, err := e.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	return e.scanOneFile(ctx, path, path, false, cat.Rules)
}

// ScanContent runs the matching pipeline over an in-memory string with
// AI analysis forced off. Intended for ad-hoc inspection of text that
// has no backing file.
func (e *Engine) ScanContent(ctx context.Context, content string) ([]*models.Detection, error) {
	cat, err := e.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	var stripped *tokenizer.StripResult
	if tokenizer.IsProbablyScriptLike(content) {
		stripped = tokenizer.StripWithLineMap(content)
	}

	raw := e.matcher.Match(content, stripped, cat.Rules)
	detections, err := e.builder.Build(ctx, content, raw, false)
	if err != nil {
		return nil, err
	}
	return append(detections, e.scanDecodedLayers(ctx, content, cat.Rules)...), nil
}
