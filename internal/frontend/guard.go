package frontend

// ScanGuard performs per-scan ingestion bookkeeping: sequence-gap
// detection and point-count density classification. It holds only the
// last seen sequence number; the density flag is derived per call and
// never stored.
type ScanGuard struct {
	openSpacePoints int

	seen    bool
	lastSeq uint32
}

// NewScanGuard returns a guard classifying scans with more than
// openSpacePoints points as open space.
func NewScanGuard(openSpacePoints int) *ScanGuard {
	return &ScanGuard{openSpacePoints: openSpacePoints}
}

// Classify records the scan's sequence number and reports:
// first — this is the first scan ever seen;
// gap — the sequence number is not lastSeq+1 (reported, not fatal);
// openSpace — the point count strictly exceeds the configured
// threshold.
// The stored sequence number always advances to seq, gap or not.
func (g *ScanGuard) Classify(seq uint32, points int) (first, gap, openSpace bool) {
	openSpace = points > g.openSpacePoints

	if !g.seen {
		g.seen = true
		g.lastSeq = seq
		return true, false, openSpace
	}
	gap = seq != g.lastSeq+1
	g.lastSeq = seq
	return false, gap, openSpace
}
