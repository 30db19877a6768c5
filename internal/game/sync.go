package game

// Gate orders inbound snapshots for one receiver. The same snapshot may
// arrive twice (direct path and relay) and out of order after a
// reconnect; Admit keeps application monotonic and idempotent.
type Gate struct {
	highest int
	seen    bool
	lastFP  string
}

// Admit reports whether the snapshot may be applied (its seq is not
// below the highest already admitted) and whether its content actually
// differs from the last admitted one. Equal seqs are admitted: the
// fingerprint governs mutation, so re-applying identical content is
// harmless.
func (g *Gate) Admit(s *Snapshot) (apply, changed bool) {
	if g.seen && s.SyncSeq < g.highest {
		return false, false
	}
	g.seen = true
	g.highest = s.SyncSeq
	fp := s.Fingerprint()
	changed = fp != g.lastFP
	g.lastFP = fp
	return true, changed
}

// Highest returns the highest admitted seq, or -1 before any admission.
func (g *Gate) Highest() int {
	if !g.seen {
		return -1
	}
	return g.highest
}

// Stamper assigns outgoing seq numbers for one sender. The seq only
// increments when the fingerprint changes versus the last stamped
// snapshot, so re-broadcasting identical state never inflates it.
type Stamper struct {
	seq    int
	lastFP string
}

// Stamp sets s.SyncSeq, bumping the counter only on content change.
func (st *Stamper) Stamp(s *Snapshot) {
	fp := s.Fingerprint()
	if fp != st.lastFP {
		st.seq++
		st.lastFP = fp
	}
	s.SyncSeq = st.seq
}

// Observe folds an applied inbound snapshot into the sender state, so a
// peer continues the numbering instead of restarting below it.
func (st *Stamper) Observe(s *Snapshot) {
	if s.SyncSeq > st.seq {
		st.seq = s.SyncSeq
	}
	st.lastFP = s.Fingerprint()
}
