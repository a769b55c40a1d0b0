package lanekey

// Family is a coarse, observability-only classification of a command,
// independent of lane identity.
type Family string

const (
	FamilyOpen           Family = "open"
	FamilyRun            Family = "run"
	FamilySessionAttach  Family = "session.attach"
	FamilyTarget         Family = "target"
	FamilyControl        Family = "control"
)

// ManifestEntry associates a command path (argv prefix) with a family.
// The Lane Key Resolver and any CLI-side diagnostics consume the same
// manifest-driven trie; there is one authoritative parser (Design Notes §9).
type ManifestEntry struct {
	Path   []string
	Family Family
}

// DefaultManifest is the command surface the daemon and client agree on.
// It intentionally does not enumerate every leaf subcommand (e.g. every
// `target <verb>`): argument parsing and the full command surface are
// out of this module's scope; only enough of the path tree
// is listed here to classify family for observability.
var DefaultManifest = []ManifestEntry{
	{Path: []string{"open"}, Family: FamilyOpen},
	{Path: []string{"run"}, Family: FamilyRun},
	{Path: []string{"session", "attach"}, Family: FamilySessionAttach},
	{Path: []string{"session"}, Family: FamilyControl},
	{Path: []string{"target"}, Family: FamilyTarget},
}
