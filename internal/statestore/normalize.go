package statestore

// normalize applies the load-time repairs every read/mutate path relies
// on: missing ordinals initialized from max observed + 1, orphan targets
// removed, activeSessionId cleared if dangling, zero-value maps
// initialized, and managed sessions with an unknown browser mode
// repaired to headless.
func normalize(doc *StateDocument) {
	if doc.Sessions == nil {
		doc.Sessions = map[string]SessionRecord{}
	}
	if doc.Targets == nil {
		doc.Targets = map[string]TargetRecord{}
	}
	if doc.NetworkCaptures == nil {
		doc.NetworkCaptures = map[string]NetworkCaptureRecord{}
	}
	if doc.NetworkArtifacts == nil {
		doc.NetworkArtifacts = map[string]NetworkArtifactRecord{}
	}
	if doc.Version == 0 {
		doc.Version = CurrentVersion
	}

	for id, sess := range doc.Sessions {
		if sess.Kind == SessionManaged && sess.BrowserMode == BrowserUnknown {
			sess.BrowserMode = BrowserHeadless
			doc.Sessions[id] = sess
		}
	}

	for id, t := range doc.Targets {
		if _, ok := doc.Sessions[t.SessionID]; !ok {
			delete(doc.Targets, id)
		}
	}

	if doc.ActiveSessionID != nil {
		if _, ok := doc.Sessions[*doc.ActiveSessionID]; !ok {
			doc.ActiveSessionID = nil
		}
	}

	maxSessionOrdinal := 0
	for id := range doc.Sessions {
		if n, ok := ordinalSuffix(id); ok && n > maxSessionOrdinal {
			maxSessionOrdinal = n
		}
	}
	if doc.NextSessionOrdinal <= maxSessionOrdinal {
		doc.NextSessionOrdinal = maxSessionOrdinal + 1
	}

	maxCaptureOrdinal := 0
	for id := range doc.NetworkCaptures {
		if n, ok := ordinalSuffix(id); ok && n > maxCaptureOrdinal {
			maxCaptureOrdinal = n
		}
	}
	if doc.NextCaptureOrdinal <= maxCaptureOrdinal {
		doc.NextCaptureOrdinal = maxCaptureOrdinal + 1
	}

	maxArtifactOrdinal := 0
	for id := range doc.NetworkArtifacts {
		if n, ok := ordinalSuffix(id); ok && n > maxArtifactOrdinal {
			maxArtifactOrdinal = n
		}
	}
	if doc.NextArtifactOrdinal <= maxArtifactOrdinal {
		doc.NextArtifactOrdinal = maxArtifactOrdinal + 1
	}
}

// ordinalSuffix extracts a trailing base-10 integer from an id like
// "s-7", returning (7, true). IDs without a parsable numeric suffix are
// ignored for ordinal-repair purposes (they were assigned externally,
// e.g. an explicit --session name).
func ordinalSuffix(id string) (int, bool) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) {
		return 0, false
	}
	n := 0
	for _, c := range id[i:] {
		n = n*10 + int(c-'0')
	}
	return n, true
}
