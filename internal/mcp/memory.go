package mcp

import (
	"github.com/ccengram/ccengram/internal/core"
	ccerr "github.com/ccengram/ccengram/internal/errors"
)

// buildMemory validates remember input and constructs the record.
func buildMemory(projectID string, input RememberInput, model string) (*core.Memory, error) {
	if input.Content == "" {
		return nil, ccerr.Validation("content", "content is required")
	}

	sector := core.SectorSemantic
	if input.Sector != "" {
		parsed, err := core.ParseSector(input.Sector)
		if err != nil {
			return nil, ccerr.Validation("sector", err.Error())
		}
		sector = parsed
	}

	importance := input.Importance
	if importance == 0 {
		importance = 0.5
	}
	if importance < 0 || importance > 1 {
		return nil, ccerr.Validation("importance", "importance must be between 0 and 1")
	}

	m := core.NewMemory(projectID, input.Content, sector, core.TierProject)
	m.Importance = importance
	m.Tags = input.Tags
	m.EmbeddingModel = model
	return m, nil
}
