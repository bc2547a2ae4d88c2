package main

import (
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"

	"github.com/skipor/kvcache"
	"github.com/skipor/kvcache/cache"
)

// missKey is never set by workload. Requests with it always miss.
const missKey = "-A"

type request struct {
	op    kvcache.Op
	key   string
	value []byte
	size  int64
}

type mix struct {
	getP    int // Percents of gets.
	deleteP int // Percents of deletes. Rest are sets.
}

func (m mix) validate() error {
	if m.getP < 0 || m.deleteP < 0 || m.getP+m.deleteP > 100 {
		return errors.Errorf("invalid request mix: get %v%%, delete %v%%", m.getP, m.deleteP)
	}
	return nil
}

// workload generates random requests. Keys close to list start are requested
// more often, and keys close to list end are deleted more often.
type workload struct {
	rand *rand.Rand
	mix  mix
	keys []string
}

func newWorkload(r *rand.Rand, m mix, keys []string) *workload {
	return &workload{
		rand: r,
		mix:  m,
		keys: append([]string(nil), keys...),
	}
}

func (w *workload) next() request {
	p := w.rand.Intn(100)
	switch {
	case p < w.mix.getP:
		// 10% of gets are for absent key.
		if w.rand.Intn(100) < 10 {
			return request{op: kvcache.OpGet, key: missKey}
		}
		return request{op: kvcache.OpGet, key: w.selectKey()}
	case p < w.mix.getP+w.mix.deleteP:
		// 90% of deletes are for absent key.
		if w.rand.Intn(100) < 90 {
			return request{op: kvcache.OpDelete, key: missKey}
		}
		return request{op: kvcache.OpDelete, key: w.selectDeleteKey()}
	}
	value := randValue(w.rand)
	r := request{op: kvcache.OpSet, value: value, size: int64(len(value))}
	if w.rand.Intn(100) < 2 || len(w.keys) == 0 {
		r.key = randKey(w.rand, 8)
		w.keys = append(w.keys, r.key)
	} else {
		r.key = w.selectKey()
	}
	return r
}

// expIndex returns index in [0, n), exponentially distributed with rate 6
// over [0, 1] interval scaled to n.
func expIndex(r *rand.Rand, n int) int {
	x := math.Min(r.ExpFloat64()/6/2, 1)
	i := int(x * float64(n))
	if i == n {
		i--
	}
	return i
}

func (w *workload) selectKey() string {
	if len(w.keys) == 0 {
		return missKey
	}
	return w.keys[expIndex(w.rand, len(w.keys))]
}

func (w *workload) selectDeleteKey() string {
	if len(w.keys) == 0 {
		return missKey
	}
	return w.keys[len(w.keys)-1-expIndex(w.rand, len(w.keys))]
}

// randValue returns lowercase letters value. Length is in [2, 8] in 95% cases,
// in [10, 45] in 4% cases, and in [100, 115] otherwise.
func randValue(r *rand.Rand) []byte {
	var n int
	switch p := r.Intn(100); {
	case p < 95:
		n = 2 + r.Intn(7)
	case p < 99:
		n = 10 + r.Intn(36)
	default:
		n = 100 + r.Intn(16)
	}
	v := make([]byte, n)
	for i := range v {
		v[i] = byte('a' + r.Intn(26))
	}
	return v
}

func randKey(r *rand.Rand, n int) string {
	k := make([]byte, n)
	for i := range k {
		k[i] = byte('A' + r.Intn(26))
	}
	return string(k)
}

// warmup sets random entries until their total size is at least bytes. Returns set keys.
func warmup(c *kvcache.Client, r *rand.Rand, bytes int64) ([]string, error) {
	var keys []string
	var total int64
	for total < bytes {
		key := randKey(r, 10)
		value := randValue(r)
		err := c.Set(key, value, int64(len(value)))
		if err != nil {
			return nil, errors.Wrapf(err, "warmup set %q", key)
		}
		keys = append(keys, key)
		total += int64(len(value))
	}
	return keys, nil
}

// workerStats is accumulated by one worker and merged after all workers finish.
type workerStats struct {
	requests int64
	gets     int64
	hits     int64
	errors   int64
	// latencies is number of requests per latency in milliseconds, rounded to hundredths.
	latencies map[float64]int64
}

func newWorkerStats() *workerStats {
	return &workerStats{latencies: make(map[float64]int64)}
}

func (s *workerStats) observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	s.latencies[math.Round(ms*100)/100]++
	s.requests++
}

func (s *workerStats) merge(o *workerStats) {
	s.requests += o.requests
	s.gets += o.gets
	s.hits += o.hits
	s.errors += o.errors
	for l, n := range o.latencies {
		s.latencies[l] += n
	}
}

func (s *workerStats) hitRate() float64 {
	if s.gets == 0 {
		return 0
	}
	return float64(s.hits) / float64(s.gets)
}

// runWorker executes n requests generated by w. Per operation timers are registered in reg.
// Rejections and transport errors are counted, and do not stop worker.
func runWorker(c *kvcache.Client, w *workload, n int, reg metrics.Registry) *workerStats {
	s := newWorkerStats()
	for i := 0; i < n; i++ {
		r := w.next()
		timer := metrics.GetOrRegisterTimer(string(r.op), reg)
		var err error
		var hit bool
		start := time.Now()
		switch r.op {
		case kvcache.OpGet:
			_, _, hit, err = c.Get(r.key)
		case kvcache.OpDelete:
			_, err = c.Delete(r.key)
		case kvcache.OpSet:
			err = c.Set(r.key, r.value, r.size)
		}
		elapsed := time.Since(start)
		timer.Update(elapsed)
		s.observe(elapsed)
		if r.op == kvcache.OpGet && err == nil {
			s.gets++
			if hit {
				s.hits++
			}
		}
		if err != nil {
			switch errors.Cause(err) {
			case cache.ErrNoSpace, cache.ErrTooLarge:
				metrics.GetOrRegisterCounter("rejections", reg).Inc(1)
			default:
				metrics.GetOrRegisterCounter("errors", reg).Inc(1)
				s.errors++
			}
		}
	}
	return s
}
