// Command kvbench generates random workload against kvcache server and reports latency statistics.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"

	"github.com/skipor/kvcache"
)

type options struct {
	addr     string
	clients  int
	requests int
	warmup   int64
	mix      mix
	output   string
	seed     int64
	metrics  bool
}

var opts options

var rootCmd = &cobra.Command{
	Use:   "kvbench",
	Short: "kvcache server workload generator",
	Long: `kvbench warms up kvcache server, then runs concurrent clients sending
random get, delete and set requests. Latency histogram is written into output file
as "latency_ms<TAB>count" lines. Output is zstd compressed, if file name ends with ".zst".

Examples:
  kvbench -a 127.0.0.1:3618 -c 8 -n 1000000
  kvbench --get 90 --delete 5 -o timing_data.dat.zst`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(opts)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&opts.addr, "addr", "a", fmt.Sprintf("%s:%d", kvcache.DefaultHost, kvcache.DefaultPort), "server address")
	f.IntVarP(&opts.clients, "clients", "c", 4, "number of concurrent clients")
	f.IntVarP(&opts.requests, "requests", "n", 100000, "total number of requests")
	f.Int64Var(&opts.warmup, "warmup", 1024, "bytes to set before workload")
	f.IntVar(&opts.mix.getP, "get", 67, "percent of get requests")
	f.IntVar(&opts.mix.deleteP, "delete", 31, "percent of delete requests; rest are set")
	f.StringVarP(&opts.output, "output", "o", "timing_data.dat", "latency histogram output file")
	f.Int64Var(&opts.seed, "seed", 0, "random seed; current time if zero")
	f.BoolVar(&opts.metrics, "metrics", false, "print per operation timers")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(o options) error {
	if err := o.mix.validate(); err != nil {
		return err
	}
	if o.clients <= 0 || o.requests < 0 {
		return fmt.Errorf("invalid clients %v or requests %v", o.clients, o.requests)
	}
	seed := o.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	c, err := kvcache.Dial(o.addr)
	if err != nil {
		return err
	}
	keys, err := warmup(c, rand.New(rand.NewSource(seed)), o.warmup)
	c.Close()
	if err != nil {
		return err
	}

	clients := make([]*kvcache.Client, o.clients)
	for i := range clients {
		clients[i], err = kvcache.Dial(o.addr)
		if err != nil {
			for _, c := range clients[:i] {
				c.Close()
			}
			return err
		}
	}

	reg := metrics.NewRegistry()
	results := make([]*workerStats, o.clients)
	var wg sync.WaitGroup
	start := time.Now()
	for i := range clients {
		n := o.requests / o.clients
		if i < o.requests%o.clients {
			n++
		}
		w := newWorkload(rand.New(rand.NewSource(seed+int64(i)+1)), o.mix, keys)
		wg.Add(1)
		go func(i, n int) {
			defer wg.Done()
			defer clients[i].Close()
			results[i] = runWorker(clients[i], w, n, reg)
		}(i, n)
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := newWorkerStats()
	for _, r := range results {
		total.merge(r)
	}
	if _, err := newReport(total, elapsed).WriteTo(os.Stdout); err != nil {
		return err
	}
	if o.metrics {
		metrics.WriteOnce(reg, os.Stdout)
	}
	return saveLatencies(o.output, total.latencies)
}
