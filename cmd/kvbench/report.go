package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/stackerr"
	"github.com/klauspost/compress/zstd"
	"github.com/rcrowley/go-metrics"
)

type report struct {
	elapsed    time.Duration
	requests   int64
	p95        float64 // Milliseconds.
	throughput float64 // Requests per second.
	meanTime   float64 // Milliseconds per request.
	hitRate    float64
	errors     int64
}

func newReport(s *workerStats, elapsed time.Duration) report {
	r := report{
		elapsed:  elapsed,
		requests: s.requests,
		hitRate:  s.hitRate(),
		errors:   s.errors,
	}
	if s.requests == 0 {
		return r
	}
	h := metrics.NewHistogram(metrics.NewUniformSample(int(s.requests)))
	for l, n := range s.latencies {
		// Histogram accepts integers: use microseconds.
		us := int64(l * 1000)
		for i := int64(0); i < n; i++ {
			h.Update(us)
		}
	}
	r.p95 = h.Percentile(0.95) / 1000
	r.throughput = float64(s.requests) / elapsed.Seconds()
	r.meanTime = float64(elapsed) / float64(time.Millisecond) / float64(s.requests)
	return r
}

func (r report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Total time taken: %v\n", r.elapsed)
	fmt.Fprintf(&b, "Requests: %v, errors: %v\n", r.requests, r.errors)
	fmt.Fprintf(&b, "95th%% latency: %.2f ms\n", r.p95)
	fmt.Fprintf(&b, "Reqs per second: %.0f\n", r.throughput)
	fmt.Fprintf(&b, "Average time per request: %.4f ms\n", r.meanTime)
	fmt.Fprintf(&b, "get() hit ratio: %.4f\n", r.hitRate)
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// writeLatencies writes "latency_ms\tcount" lines sorted by latency.
func writeLatencies(w io.Writer, latencies map[float64]int64) error {
	keys := make([]float64, 0, len(latencies))
	for l := range latencies {
		keys = append(keys, l)
	}
	sort.Float64s(keys)
	bw := bufio.NewWriter(w)
	for _, l := range keys {
		bw.WriteString(strconv.FormatFloat(l, 'f', -1, 64))
		bw.WriteByte('\t')
		bw.WriteString(strconv.FormatInt(latencies[l], 10))
		bw.WriteByte('\n')
	}
	return stackerr.Wrap(bw.Flush())
}

// saveLatencies writes latencies into file. File is zstd compressed, if name ends with ".zst".
func saveLatencies(name string, latencies map[float64]int64) (err error) {
	f, err := os.Create(name)
	if err != nil {
		return stackerr.Wrap(err)
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = stackerr.Wrap(closeErr)
		}
	}()
	if !strings.HasSuffix(name, ".zst") {
		return writeLatencies(f, latencies)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		return stackerr.Wrap(err)
	}
	err = writeLatencies(enc, latencies)
	if closeErr := enc.Close(); err == nil {
		err = stackerr.Wrap(closeErr)
	}
	return err
}
