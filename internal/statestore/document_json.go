package statestore

import "encoding/json"

type jsonRaw = json.RawMessage

// documentAlias mirrors StateDocument's exported fields so MarshalJSON/
// UnmarshalJSON can delegate to the default struct codec for everything
// except the unexported extra map.
type documentAlias struct {
	Version         int     `json:"version"`
	ActiveSessionID *string `json:"activeSessionId"`

	NextSessionOrdinal  int `json:"nextSessionOrdinal"`
	NextCaptureOrdinal  int `json:"nextCaptureOrdinal"`
	NextArtifactOrdinal int `json:"nextArtifactOrdinal"`

	Sessions         map[string]SessionRecord         `json:"sessions"`
	Targets          map[string]TargetRecord          `json:"targets"`
	NetworkCaptures  map[string]NetworkCaptureRecord   `json:"networkCaptures"`
	NetworkArtifacts map[string]NetworkArtifactRecord  `json:"networkArtifacts"`
}

var knownTopLevelKeys = map[string]bool{
	"version": true, "activeSessionId": true,
	"nextSessionOrdinal": true, "nextCaptureOrdinal": true, "nextArtifactOrdinal": true,
	"sessions": true, "targets": true, "networkCaptures": true, "networkArtifacts": true,
}

// MarshalJSON writes the known fields plus any preserved unknown ones.
func (d StateDocument) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(documentAlias{
		Version:             d.Version,
		ActiveSessionID:     d.ActiveSessionID,
		NextSessionOrdinal:  d.NextSessionOrdinal,
		NextCaptureOrdinal:  d.NextCaptureOrdinal,
		NextArtifactOrdinal: d.NextArtifactOrdinal,
		Sessions:            d.Sessions,
		Targets:             d.Targets,
		NetworkCaptures:     d.NetworkCaptures,
		NetworkArtifacts:    d.NetworkArtifacts,
	})
	if err != nil {
		return nil, err
	}
	if len(d.extra) == 0 {
		return known, nil
	}

	merged := map[string]jsonRaw{}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range d.extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes known fields and stashes any unrecognized
// top-level keys in extra.
func (d *StateDocument) UnmarshalJSON(data []byte) error {
	var alias documentAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*d = StateDocument{
		Version:             alias.Version,
		ActiveSessionID:     alias.ActiveSessionID,
		NextSessionOrdinal:  alias.NextSessionOrdinal,
		NextCaptureOrdinal:  alias.NextCaptureOrdinal,
		NextArtifactOrdinal: alias.NextArtifactOrdinal,
		Sessions:            alias.Sessions,
		Targets:             alias.Targets,
		NetworkCaptures:     alias.NetworkCaptures,
		NetworkArtifacts:    alias.NetworkArtifacts,
	}

	var raw map[string]jsonRaw
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if knownTopLevelKeys[k] {
			continue
		}
		if d.extra == nil {
			d.extra = map[string]jsonRaw{}
		}
		d.extra[k] = v
	}
	return nil
}
