package allocation

// EmergencyPriority outranks every source and is never returned by
// PriorityForSource.
const EmergencyPriority = 0

// lowestPriority is what an unrecognised source ranks as. Sources are
// validated at every entry point, so this is only reachable by bypassing them.
const lowestPriority = 3

var sourcePriority = map[TokenSource]int{
	SourcePaidPriority:  1,
	SourceFollowUp:      2,
	SourceOnlineBooking: 2,
	SourceWalkIn:        3,
}

// PriorityForSource maps a token origin to its priority class; lower is more urgent.
func PriorityForSource(source TokenSource) int {
	if p, ok := sourcePriority[source]; ok {
		return p
	}
	return lowestPriority
}

// ComparePriority orders priorities ascending: negative when a goes first.
func ComparePriority(a, b int) int {
	return a - b
}

// HasHigherPriority reports whether a strictly outranks b.
func HasHigherPriority(a, b TokenSource) bool {
	return PriorityForSource(a) < PriorityForSource(b)
}
