package gocotb

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks runtime statistics for a Scheduler. Attached via
// WithMetrics; nil (and every recording call a no-op) otherwise, so a
// Scheduler built without it pays no tracking overhead.
type Metrics struct {
	// Resume latency: time from a task being popped off the run queue to
	// it yielding its next trigger or finishing.
	ResumeLatency LatencyMetrics

	// Depth of the run queue and the trigger-waiters map, sampled before
	// each run-queue pop in the drain loop.
	Queue QueueMetrics

	// Task resumes per second.
	Resumes TPSCounter
}

func newMetrics() *Metrics {
	return &Metrics{Resumes: *NewTPSCounter(10*time.Second, 100*time.Millisecond)}
}

// LatencyMetrics tracks latency distribution with percentiles, using the
// P-Square algorithm for O(1) streaming percentile estimation.
type LatencyMetrics struct {
	psquare *resumeLatencyQuantiles

	mu sync.RWMutex

	// Rolling sample buffer, retained for exact percentiles at low sample
	// counts where P-Square's asymptotic estimate is still noisy.
	sampleIdx   int
	sampleCount int
	samples     [sampleSize]time.Duration

	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
	Max time.Duration

	Mean time.Duration
	Sum  time.Duration
}

const sampleSize = 1000

// Record records a single task-resume latency sample.
func (l *LatencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.psquare == nil {
		l.psquare = newResumeLatencyQuantiles(0.50, 0.90, 0.95, 0.99)
	}
	l.psquare.update(float64(duration))

	if l.sampleCount >= sampleSize {
		old := l.samples[l.sampleIdx]
		l.Sum -= old
	}
	l.samples[l.sampleIdx] = duration
	l.Sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Sample computes percentiles from collected samples and returns the
// number of samples used.
func (l *LatencyMetrics) Sample() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.sampleCount
	if count == 0 {
		return 0
	}

	if count < 5 || l.psquare == nil {
		sorted := make([]time.Duration, count)
		copy(sorted, l.samples[:count])
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		l.P50 = sorted[percentileIndex(count, 50)]
		l.P90 = sorted[percentileIndex(count, 90)]
		l.P95 = sorted[percentileIndex(count, 95)]
		l.P99 = sorted[percentileIndex(count, 99)]
		l.Max = sorted[count-1]
		l.Mean = l.Sum / time.Duration(count)
		return count
	}

	l.P50 = time.Duration(l.psquare.quantile(0))
	l.P90 = time.Duration(l.psquare.quantile(1))
	l.P95 = time.Duration(l.psquare.quantile(2))
	l.P99 = time.Duration(l.psquare.quantile(3))
	l.Max = time.Duration(l.psquare.maxValue())
	l.Mean = l.Sum / time.Duration(count)
	return count
}

func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

// QueueMetrics tracks the scheduler's run-queue and waiters-map depth.
type QueueMetrics struct {
	mu sync.RWMutex

	RunQueueCurrent int
	WaitersCurrent  int

	RunQueueMax int
	WaitersMax  int

	RunQueueAvg float64
	WaitersAvg  float64

	runQueueEMAInitialized bool
	waitersEMAInitialized  bool
}

// UpdateRunQueue records the run queue's current depth.
func (q *QueueMetrics) UpdateRunQueue(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.RunQueueCurrent = depth
	if depth > q.RunQueueMax {
		q.RunQueueMax = depth
	}
	if !q.runQueueEMAInitialized {
		q.RunQueueAvg = float64(depth)
		q.runQueueEMAInitialized = true
	} else {
		q.RunQueueAvg = 0.9*q.RunQueueAvg + 0.1*float64(depth)
	}
}

// UpdateWaiters records the trigger-waiters map's current total waiter
// count.
func (q *QueueMetrics) UpdateWaiters(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.WaitersCurrent = depth
	if depth > q.WaitersMax {
		q.WaitersMax = depth
	}
	if !q.waitersEMAInitialized {
		q.WaitersAvg = float64(depth)
		q.waitersEMAInitialized = true
	} else {
		q.WaitersAvg = 0.9*q.WaitersAvg + 0.1*float64(depth)
	}
}

// TPSCounter tracks events per second with a rolling, bucketed window.
type TPSCounter struct {
	lastRotation atomic.Value // time.Time
	buckets      []int64
	bucketSize   time.Duration
	windowSize   time.Duration
	mu           sync.Mutex
}

// NewTPSCounter creates a counter with the given rolling window and bucket
// granularity. windowSize and bucketSize must be positive, and bucketSize
// must not exceed windowSize.
func NewTPSCounter(windowSize, bucketSize time.Duration) *TPSCounter {
	if windowSize <= 0 {
		panic("gocotb: windowSize must be positive")
	}
	if bucketSize <= 0 {
		panic("gocotb: bucketSize must be positive")
	}
	if bucketSize > windowSize {
		panic("gocotb: bucketSize cannot exceed windowSize")
	}
	bucketCount := int(windowSize / bucketSize)
	counter := &TPSCounter{
		buckets:    make([]int64, bucketCount),
		bucketSize: bucketSize,
		windowSize: windowSize,
	}
	counter.lastRotation.Store(time.Now())
	return counter
}

// Increment records one event.
func (t *TPSCounter) Increment() {
	t.rotate()
	t.mu.Lock()
	t.buckets[len(t.buckets)-1]++
	t.mu.Unlock()
}

func (t *TPSCounter) rotate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	lastRotation := t.lastRotation.Load().(time.Time)
	elapsed := now.Sub(lastRotation)

	bucketsToAdvanceInt64 := int64(elapsed) / int64(t.bucketSize)
	if bucketsToAdvanceInt64 < 0 {
		bucketsToAdvanceInt64 = int64(len(t.buckets))
	} else if bucketsToAdvanceInt64 > int64(len(t.buckets)) {
		bucketsToAdvanceInt64 = int64(len(t.buckets))
	}
	bucketsToAdvance := int(bucketsToAdvanceInt64)

	if bucketsToAdvance >= len(t.buckets) {
		for i := range t.buckets {
			t.buckets[i] = 0
		}
		t.lastRotation.Store(now)
		return
	}
	if bucketsToAdvance <= 0 {
		return
	}

	copy(t.buckets, t.buckets[bucketsToAdvance:])
	for i := len(t.buckets) - bucketsToAdvance; i < len(t.buckets); i++ {
		t.buckets[i] = 0
	}
	t.lastRotation.Store(lastRotation.Add(time.Duration(bucketsToAdvance) * t.bucketSize))
}

// TPS returns the current rate, in events per second.
func (t *TPSCounter) TPS() float64 {
	t.rotate()
	t.mu.Lock()
	defer t.mu.Unlock()

	var sum int64
	for _, count := range t.buckets {
		sum += count
	}
	if sum == 0 {
		return 0
	}
	monitoredDuration := float64(len(t.buckets)) * t.bucketSize.Seconds()
	return float64(sum) / monitoredDuration
}

// ---- resume-latency percentile estimation (P-Square) ----
//
// Jain, R. and Chlamtac, I. (1985). "The P² Algorithm for Dynamic
// Calculation of Quantiles and Histograms Without Storing Observations".
// Communications of the ACM, 28(10), pp. 1076-1085. Gives O(1) updates and
// O(1) quantile retrieval in exchange for an asymptotic (not exact)
// estimate, which is why LatencyMetrics.Sample falls back to an exact sort
// at low sample counts instead of trusting this estimator from the first
// observation.
//
// Not thread-safe; callers hold LatencyMetrics.mu.

// quantileEstimator tracks one target percentile's marker set.
type quantileEstimator struct {
	p float64

	q  [5]float64 // marker heights
	n  [5]int     // marker positions
	np [5]float64 // desired marker positions
	dn [5]float64 // increments for desired marker positions

	initialized bool
	count       int
	initBuffer  [5]float64
}

// newQuantileEstimator creates an estimator for target percentile p, in
// [0.0, 1.0] (e.g. 0.99 for P99).
func newQuantileEstimator(p float64) *quantileEstimator {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return &quantileEstimator{
		p:  p,
		dn: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

// update folds in one latency observation. O(1).
func (e *quantileEstimator) update(x float64) {
	e.count++

	if e.count <= 5 {
		e.initBuffer[e.count-1] = x
		if e.count == 5 {
			e.initializeMarkers()
		}
		return
	}

	var k int
	switch {
	case x < e.q[0]:
		e.q[0] = x
		k = 0
	case x >= e.q[4]:
		e.q[4] = x
		k = 3
	default:
		for k = 0; k < 4; k++ {
			if e.q[k] <= x && x < e.q[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		e.n[i]++
	}
	for i := 0; i < 5; i++ {
		e.np[i] += e.dn[i]
	}

	for i := 1; i < 4; i++ {
		d := e.np[i] - float64(e.n[i])
		if (d >= 1 && e.n[i+1]-e.n[i] > 1) || (d <= -1 && e.n[i-1]-e.n[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			qPrime := e.parabolic(i, sign)
			if e.q[i-1] < qPrime && qPrime < e.q[i+1] {
				e.q[i] = qPrime
			} else {
				e.q[i] = e.linear(i, sign)
			}
			e.n[i] += sign
		}
	}
}

// initializeMarkers seeds the marker set from the first 5 observations.
func (e *quantileEstimator) initializeMarkers() {
	for i := 1; i < 5; i++ {
		key := e.initBuffer[i]
		j := i - 1
		for j >= 0 && e.initBuffer[j] > key {
			e.initBuffer[j+1] = e.initBuffer[j]
			j--
		}
		e.initBuffer[j+1] = key
	}
	for i := 0; i < 5; i++ {
		e.q[i] = e.initBuffer[i]
		e.n[i] = i
	}
	e.np = [5]float64{0, 2 * e.p, 4 * e.p, 2 + 2*e.p, 4}
	e.initialized = true
}

func (e *quantileEstimator) parabolic(i, d int) float64 {
	df := float64(d)
	ni := float64(e.n[i])
	niPrev := float64(e.n[i-1])
	niNext := float64(e.n[i+1])

	term1 := df / (niNext - niPrev)
	term2 := (ni - niPrev + df) * (e.q[i+1] - e.q[i]) / (niNext - ni)
	term3 := (niNext - ni - df) * (e.q[i] - e.q[i-1]) / (ni - niPrev)
	return e.q[i] + term1*(term2+term3)
}

func (e *quantileEstimator) linear(i, d int) float64 {
	if d == 1 {
		return e.q[i] + (e.q[i+1]-e.q[i])/float64(e.n[i+1]-e.n[i])
	}
	return e.q[i] - (e.q[i]-e.q[i-1])/float64(e.n[i]-e.n[i-1])
}

// quantile returns the current estimate. O(1).
func (e *quantileEstimator) quantile() float64 {
	if e.count == 0 {
		return 0
	}
	if e.count < 5 {
		sorted := make([]float64, e.count)
		copy(sorted, e.initBuffer[:e.count])
		for i := 1; i < e.count; i++ {
			key := sorted[i]
			j := i - 1
			for j >= 0 && sorted[j] > key {
				sorted[j+1] = sorted[j]
				j--
			}
			sorted[j+1] = key
		}
		index := int(float64(e.count-1) * e.p)
		if index >= e.count {
			index = e.count - 1
		}
		return sorted[index]
	}
	return e.q[2]
}

// resumeLatencyQuantiles tracks P50/P90/P95/P99 (or whatever percentiles it
// is constructed with) for a stream of resume-latency observations, plus
// sum/count/max for the mean.
type resumeLatencyQuantiles struct {
	estimators []*quantileEstimator
	sum        float64
	count      int
	max        float64
}

// newResumeLatencyQuantiles creates one quantileEstimator per requested
// percentile (each in [0.0, 1.0]).
func newResumeLatencyQuantiles(percentiles ...float64) *resumeLatencyQuantiles {
	m := &resumeLatencyQuantiles{
		estimators: make([]*quantileEstimator, len(percentiles)),
		max:        -math.MaxFloat64,
	}
	for i, p := range percentiles {
		m.estimators[i] = newQuantileEstimator(p)
	}
	return m
}

// update folds in one latency observation across every tracked percentile.
// O(k) in the number of percentiles.
func (m *resumeLatencyQuantiles) update(x float64) {
	m.count++
	m.sum += x
	if x > m.max {
		m.max = x
	}
	for _, est := range m.estimators {
		est.update(x)
	}
}

// quantile returns the i-th tracked percentile's current estimate.
func (m *resumeLatencyQuantiles) quantile(i int) float64 {
	if i < 0 || i >= len(m.estimators) {
		return 0
	}
	return m.estimators[i].quantile()
}

// maxValue returns the largest observed latency.
func (m *resumeLatencyQuantiles) maxValue() float64 {
	if m.count == 0 {
		return 0
	}
	return m.max
}
