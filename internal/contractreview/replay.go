package contractreview

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PipelineResultFromResponseEnvelope reconstructs a PipelineResult from a saved
// envelope so the report can be re-rendered without calling any model.
func PipelineResultFromResponseEnvelope(env ResponseEnvelope) PipelineResult {
	return PipelineResult{
		Request:  RequestEnvelope{CaseID: strings.TrimSpace(env.CaseID)},
		Analysis: env.Analysis,
		State:    env.PipelineMetadata.FinalState,
		Metadata: env.PipelineMetadata,
	}
}

// RebuildResponseFromEnvelope regenerates report markdown from a saved envelope.
func RebuildResponseFromEnvelope(env ResponseEnvelope) ResponseEnvelope {
	return BuildResponse(PipelineResultFromResponseEnvelope(env))
}

// DecodeResponseEnvelope reads a stored envelope. An envelope without a case
// id or final state was not produced by this pipeline.
func DecodeResponseEnvelope(data []byte) (ResponseEnvelope, error) {
	var env ResponseEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ResponseEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if strings.TrimSpace(env.CaseID) == "" {
		return ResponseEnvelope{}, fmt.Errorf("decode envelope: case_id is required")
	}
	if env.PipelineMetadata.FinalState == "" {
		return ResponseEnvelope{}, fmt.Errorf("decode envelope: pipeline_metadata.final_state is required")
	}
	return env, nil
}
