package store

import (
	"encoding/json"

	"github.com/dfci/matchengine/internal/model"
)

// marshalEvidence/unmarshalEvidence serialize the evidence block of a
// trial-match record into the trial_match.evidence JSONB column. Evidence
// is a fixed struct, but storing it as JSONB avoids a thirty-column wide
// table for what is, relative to the trial-match row itself, a single
// logical attachment.
func marshalEvidence(e model.Evidence) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEvidence(data []byte) (model.Evidence, error) {
	var e model.Evidence
	if len(data) == 0 {
		return e, nil
	}
	err := json.Unmarshal(data, &e)
	return e, err
}
