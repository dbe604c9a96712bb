package engine

import (
	"math"

	"github.com/Evjaj/purescan-sub000/internal/config"
	"github.com/Evjaj/purescan-sub000/pkg/models"
)

// maxChunkSize caps aggressive growth on pathological corpora of tiny
// files.
const maxChunkSize = 500

// adjustChunkSize retunes the chunk size from the duration of the chunk
// that just finished. One slow chunk shrinks hard; growth waits for two
// consecutive fast chunks before jumping, otherwise it nudges gently
// toward the target duration.
func adjustChunkSize(cfg *config.Config, c *models.ChunkState, elapsed float64) {
	target := c.TargetSeconds
	if target <= 0 {
		target = cfg.ChunkTargetSeconds
	}
	ratio := elapsed / target

	switch {
	case ratio > cfg.ChunkSlowRatio:
		c.Size = scale(c.Size, cfg.ChunkShrinkFactor)
		c.ConsecutiveFast = 0
	case ratio < cfg.ChunkFastRatio:
		c.ConsecutiveFast++
		if c.ConsecutiveFast >= 2 {
			c.Size = scale(c.Size, cfg.ChunkGrowFactor)
			c.ConsecutiveFast = 0
		} else {
			c.Size = scale(c.Size, cfg.ChunkGentleUp)
		}
	case ratio < 1.0:
		c.Size = scale(c.Size, cfg.ChunkGentleUp)
		c.ConsecutiveFast = 0
	default:
		c.Size = scale(c.Size, cfg.ChunkGentleDown)
		c.ConsecutiveFast = 0
	}

	if c.Size < cfg.MinChunkSize {
		c.Size = cfg.MinChunkSize
	}
	if c.Size > maxChunkSize {
		c.Size = maxChunkSize
	}
}

func scale(n int, factor float64) int {
	return int(math.Round(float64(n) * factor))
}
