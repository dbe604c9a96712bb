package report

import (
	"encoding/json"

	"github.com/Evjaj/purescan-sub000/pkg/models"
)

func (g *Generator) renderJSON(snap *models.Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
