package anomaly

// bucket is one ring slot. A slot belongs to bucket number num and is reused
// by num+len(ring) once that bucket receives time.
type bucket struct {
	num int64
	ns  int64
}

// bucketWindow accumulates held duration into fixed buckets aligned to the
// tracker origin. Bucket b covers [origin+b*size, origin+(b+1)*size).
type bucketWindow struct {
	origin int64
	size   int64
	ring   []bucket
	latest int64
}

func newBucketWindow(origin, size int64, numBuckets int) *bucketWindow {
	ring := make([]bucket, numBuckets)
	for i := range ring {
		ring[i].num = -1
	}
	return &bucketWindow{
		origin: origin,
		size:   size,
		ring:   ring,
		latest: -1,
	}
}

func (w *bucketWindow) bucketOf(ts int64) int64 {
	if ts <= w.origin {
		return 0
	}
	return (ts - w.origin) / w.size
}

func (w *bucketWindow) startOf(b int64) int64 {
	return w.origin + b*w.size
}

func (w *bucketWindow) n() int64 {
	return int64(len(w.ring))
}

// value returns the committed duration of bucket b, or 0 if its slot has
// been reused or never written.
func (w *bucketWindow) value(b int64) int64 {
	if b < 0 {
		return 0
	}
	s := w.ring[b%w.n()]
	if s.num != b {
		return 0
	}
	return s.ns
}

func (w *bucketWindow) add(b, ns int64) {
	if ns <= 0 || b <= w.latest-w.n() {
		return
	}
	s := &w.ring[b%w.n()]
	if s.num != b {
		s.num = b
		s.ns = 0
	}
	s.ns += ns
	if b > w.latest {
		w.latest = b
	}
}

// append commits durationNs of accrual ending at timestampNs, splitting it
// across every bucket boundary the interval spans.
func (w *bucketWindow) append(timestampNs, durationNs int64) {
	if durationNs <= 0 {
		return
	}
	start := max(timestampNs-durationNs, w.origin)
	last := w.bucketOf(timestampNs - 1)
	start = max(start, w.startOf(last-w.n()+1))

	for start < timestampNs {
		b := w.bucketOf(start)
		end := min(w.startOf(b+1), timestampNs)
		w.add(b, end-start)
		start = end
	}
}

// windowOf returns the newest bucket of the window that ends at nowNs. The
// window covers instants strictly before nowNs, so at a bucket boundary it is
// the bucket that just closed.
func (w *bucketWindow) windowOf(nowNs int64) int64 {
	return w.bucketOf(nowNs - 1)
}

// windowedSum returns the committed duration of the numBuckets buckets that
// end at nowNs.
func (w *bucketWindow) windowedSum(nowNs int64) int64 {
	c := w.windowOf(nowNs)
	var sum int64
	for b := c - w.n() + 1; b <= c; b++ {
		sum += w.value(b)
	}
	return sum
}

// overlap returns how much of [from, to) falls inside bucket b.
func (w *bucketWindow) overlap(from, to, b int64) int64 {
	lo := max(from, w.startOf(b), w.origin)
	hi := min(to, w.startOf(b+1))
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// projectedSum is windowedSum plus the still-open interval [heldSinceNs, now),
// apportioned as if it had been committed at now.
func (w *bucketWindow) projectedSum(nowNs, heldSinceNs int64) int64 {
	c := w.windowOf(nowNs)
	var sum int64
	for b := c - w.n() + 1; b <= c; b++ {
		sum += w.value(b) + w.overlap(heldSinceNs, nowNs, b)
	}
	return sum
}

// predict returns the earliest instant at or after now, and not before
// notBeforeNs, at which the projected sum of an interval open since
// heldSinceNs exceeds thresholdNs. Buckets that will have aged out by then
// are excluded. ok is false when the threshold is unreachable.
//
// Within bucket c the projected sum grows one for one over (start(c), end(c)]
// and drops when the window slides past end(c).
func (w *bucketWindow) predict(nowNs, heldSinceNs, thresholdNs, notBeforeNs int64) (int64, bool) {
	n := w.n()
	if thresholdNs >= n*w.size {
		return 0, false
	}

	c := w.bucketOf(nowNs)
	end := w.startOf(c + 1)

	contrib := func(b int64) int64 {
		return w.value(b) + w.overlap(heldSinceNs, nowNs, b)
	}

	var sum int64
	for b := c - n + 1; b <= c; b++ {
		sum += contrib(b)
	}
	if t := max(nowNs+thresholdNs-sum+1, notBeforeNs); t <= end {
		return max(nowNs, t), true
	}

	for i := int64(1); i <= n; i++ {
		start := end + (i-1)*w.size
		var base int64
		for b := c + i - n + 1; b < c+i; b++ {
			switch {
			case b < c:
				base += contrib(b)
			case b == c:
				base += contrib(c) + end - nowNs
			default:
				base += w.size
			}
		}
		if t := max(start+thresholdNs-base+1, notBeforeNs); t <= start+w.size {
			return t, true
		}
	}

	// Still refractory after n buckets: the window is saturated except for
	// the bucket the refractory period ends in.
	start := w.startOf(w.windowOf(notBeforeNs))
	return max(start+thresholdNs-(n-1)*w.size+1, notBeforeNs), true
}

// maxAlarmAttempts bounds the search for a whole alarm second when buckets are
// not aligned to whole seconds.
const maxAlarmAttempts = 16

// alarmSec returns the smallest whole second, not before notBeforeNs, at
// which the projected sum exceeds thresholdNs. Rounding the predicted
// instant up can carry it past a bucket end, so each candidate second is
// checked against the projected sum before it is accepted.
func (w *bucketWindow) alarmSec(nowNs, heldSinceNs, thresholdNs, notBeforeNs int64) (uint32, bool) {
	for range maxAlarmAttempts {
		at, ok := w.predict(nowNs, heldSinceNs, thresholdNs, notBeforeNs)
		if !ok {
			return 0, false
		}
		sec := ceilSec(at)
		if w.projectedSum(int64(sec)*nsPerSec, heldSinceNs) > thresholdNs {
			return sec, true
		}
		notBeforeNs = int64(sec)*nsPerSec + 1
	}
	return 0, false
}
