package anomaly

// durationState tracks whether an entity is held and whether that hold is
// currently accruing. wantsAccrual is the logical acquisition; accruing is
// wantsAccrual gated by the tracker condition.
type durationState struct {
	nesting      int
	wantsAccrual bool
	accruing     bool
	heldSinceNs  int64
}

// onStart records a start event. Without nesting a repeated start is
// ignored. It returns true when accrual began at ts.
func (d *durationState) onStart(ts int64, countNesting, conditionMet bool) bool {
	if d.nesting > 0 && !countNesting {
		return false
	}
	d.nesting++
	if d.nesting > 1 {
		return false
	}
	d.wantsAccrual = true
	if !conditionMet {
		return false
	}
	d.resume(ts)
	return true
}

// onStop records a stop event. On the transition to not-held it returns the
// length of the completed interval; ok is false when there is nothing to
// commit, including a stop with no matching start.
func (d *durationState) onStop(ts int64) (durationNs int64, ok bool) {
	if d.nesting == 0 {
		return 0, false
	}
	d.nesting--
	if d.nesting > 0 {
		return 0, false
	}
	d.wantsAccrual = false
	return d.pause(ts)
}

func (d *durationState) resume(ts int64) {
	d.accruing = true
	d.heldSinceNs = ts
}

// pause ends accrual at ts without touching the logical acquisition.
func (d *durationState) pause(ts int64) (int64, bool) {
	if !d.accruing {
		return 0, false
	}
	d.accruing = false
	return max(ts-d.heldSinceNs, 0), true
}
