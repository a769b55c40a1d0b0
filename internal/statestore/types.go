// Package statestore implements the single-JSON-document state store:
// sessions, targets, network captures and artifacts, mutated only
// through Store.Mutate's read-modify-write transaction.
package statestore

import "time"

// CurrentVersion is the schema version this binary writes and expects.
const CurrentVersion = 1

// SessionKind distinguishes browser ownership.
type SessionKind string

const (
	SessionManaged  SessionKind = "managed"
	SessionAttached SessionKind = "attached"
)

// SessionPolicy controls lease defaults and prune eligibility.
type SessionPolicy string

const (
	PolicyPersistent SessionPolicy = "persistent"
	PolicyEphemeral  SessionPolicy = "ephemeral"
)

// BrowserMode records how the browser surfaces to the user.
type BrowserMode string

const (
	BrowserHeadless BrowserMode = "headless"
	BrowserHeaded   BrowserMode = "headed"
	BrowserUnknown  BrowserMode = "unknown"
)

// SessionRecord identifies a browser attachment.
type SessionRecord struct {
	SessionID   string        `json:"sessionId"`
	Kind        SessionKind   `json:"kind"`
	Policy      SessionPolicy `json:"policy"`
	BrowserMode BrowserMode   `json:"browserMode"`
	CDPOrigin   string        `json:"cdpOrigin"`
	DebugPort   *int          `json:"debugPort,omitempty"`
	UserDataDir *string       `json:"userDataDir,omitempty"`
	BrowserPid  *int          `json:"browserPid,omitempty"`
	OwnerID     string        `json:"ownerId"`

	LeaseExpiresAt time.Time `json:"leaseExpiresAt"`
	LeaseTTLMS     int       `json:"leaseTtlMs"`

	ManagedUnreachableSince *time.Time `json:"managedUnreachableSince,omitempty"`
	ManagedUnreachableCount int        `json:"managedUnreachableCount"`

	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// TargetRecord is a single browser page handle.
type TargetRecord struct {
	TargetID  string `json:"targetId"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Status    string `json:"status"`

	LastActionID   string     `json:"lastActionId,omitempty"`
	LastActionAt   *time.Time `json:"lastActionAt,omitempty"`
	LastActionKind string     `json:"lastActionKind,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// CaptureStatus is the lifecycle state of a NetworkCaptureRecord.
type CaptureStatus string

const (
	CaptureRecording CaptureStatus = "recording"
	CaptureCompleted CaptureStatus = "completed"
	CaptureFailed    CaptureStatus = "failed"
	CaptureCancelled CaptureStatus = "cancelled"
)

// NetworkCaptureRecord is an in-progress or finished network recording.
type NetworkCaptureRecord struct {
	CaptureID string        `json:"captureId"`
	SessionID string        `json:"sessionId"`
	TargetID  string        `json:"targetId"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   *time.Time    `json:"endedAt,omitempty"`
	Status    CaptureStatus `json:"status"`
	WorkerPid *int          `json:"workerPid,omitempty"`

	StopSignalPath string `json:"stopSignalPath"`
	DonePath       string `json:"donePath"`
	ResultPath     string `json:"resultPath"`
}

// NetworkArtifactRecord is a persisted artifact on disk.
type NetworkArtifactRecord struct {
	ArtifactID string    `json:"artifactId"`
	CreatedAt  time.Time `json:"createdAt"`
	Format     string    `json:"format"`
	Path       string    `json:"path"`
	SessionID  string    `json:"sessionId"`
	TargetID   string    `json:"targetId"`
	CaptureID  *string   `json:"captureId,omitempty"`
	Entries    int       `json:"entries"`
	Bytes      int64     `json:"bytes"`
}

// StateDocument is the entire persisted state.
type StateDocument struct {
	Version         int     `json:"version"`
	ActiveSessionID *string `json:"activeSessionId"`

	NextSessionOrdinal  int `json:"nextSessionOrdinal"`
	NextCaptureOrdinal  int `json:"nextCaptureOrdinal"`
	NextArtifactOrdinal int `json:"nextArtifactOrdinal"`

	Sessions         map[string]SessionRecord         `json:"sessions"`
	Targets          map[string]TargetRecord          `json:"targets"`
	NetworkCaptures  map[string]NetworkCaptureRecord  `json:"networkCaptures"`
	NetworkArtifacts map[string]NetworkArtifactRecord `json:"networkArtifacts"`

	// extra retains any top-level fields this binary doesn't recognize,
	// so a future schema addition round-trips unchanged.
	extra map[string]jsonRaw
}

// Empty returns a freshly-initialized, normalized StateDocument.
func Empty() StateDocument {
	return StateDocument{
		Version:          CurrentVersion,
		Sessions:         map[string]SessionRecord{},
		Targets:          map[string]TargetRecord{},
		NetworkCaptures:  map[string]NetworkCaptureRecord{},
		NetworkArtifacts: map[string]NetworkArtifactRecord{},
	}
}
