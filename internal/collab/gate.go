package collab

// gateDecision is the outcome of the version gate: the single chokepoint
// serializing all writers to one document. It is evaluated under the
// per-document lock, so no other writer can commit between the check and the
// mutation that follows it.
type gateDecision struct {
	accepted bool
	current  int64
}

// checkVersion accepts iff the caller's asserted base version matches the
// stored current version.
func checkVersion(baseVersion, currentVersion int64) gateDecision {
	return gateDecision{
		accepted: baseVersion == currentVersion,
		current:  currentVersion,
	}
}
