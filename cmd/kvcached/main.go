// Command kvcached runs kvcache server.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/skipor/kvcache"
	"github.com/skipor/kvcache/cmd/kvcached/config"
	"github.com/skipor/kvcache/internal/tag"
	"github.com/skipor/kvcache/log"
	"github.com/skipor/kvcache/stats"
	statslogger "github.com/skipor/kvcache/stats/logger"
	statsprom "github.com/skipor/kvcache/stats/prometheus"
)

var (
	configPath string
	flagConf   config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kvcached",
	Short: "Bounded memory key/value cache server",
	Long: `kvcached serves bounded memory key/value cache over HTTP/1.1.

Config values merge rules:
1) config file value overrides default
2) command line value overrides any

Examples:
  # Serve 64 MiB cache with FIFO eviction on all interfaces
  kvcached -s 0.0.0.0 -m 64m --policy fifo

  # Export Prometheus metrics
  kvcached --config kvcached.json --metrics-addr :9100`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	def := config.Default()
	usage := func(usage string, defVal interface{}) string {
		if _, ok := defVal.(string); ok {
			return usage + fmt.Sprintf(" (default %q)", defVal)
		}
		return usage + fmt.Sprintf(" (default %v)", defVal)
	}
	// Flags have zero defaults: only explicitly set values override config file.
	f := rootCmd.Flags()
	f.StringVar(&configPath, "config", "", "path to json config")
	f.StringVarP(&flagConf.Host, "server", "s", "", usage("host address to bind", def.Host))
	f.IntVarP(&flagConf.Port, "port", "p", 0, usage("port num", def.Port))
	f.IntVarP(&flagConf.Threads, "threads", "t", 0, usage("number of OS threads executing goroutines", def.Threads))
	f.StringVarP(&flagConf.MaxMemory, "maxmem", "m", "", usage("cache capacity: 2g, 64m, 1024", def.MaxMemory))
	f.StringVar(&flagConf.Policy, "policy", "", usage("eviction policy: none, fifo, lru", def.Policy))
	f.StringVar(&flagConf.IdleTimeout, "idle-timeout", "", usage("idle connection read timeout", def.IdleTimeout))
	f.StringVar(&flagConf.MaxBodySize, "max-body-size", "", usage("max request body size", def.MaxBodySize))
	f.StringVar(&flagConf.LogDestination, "log-destination", "", usage("log destination: stderr, stdout or file path", def.LogDestination))
	f.StringVar(&flagConf.LogLevel, "log-level", "", usage("log level: debug, info, warn, error, fatal", def.LogLevel))
	f.StringVar(&flagConf.MetricsAddr, "metrics-addr", "", "Prometheus metrics address; stats are logged at debug level if empty")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads config file if any, and returns it merged with defaults and flags.
func loadConfig() (kvcache.Config, error) {
	conf := config.Default()
	if configPath != "" {
		fileConf, err := config.Load(configPath)
		if err != nil {
			return kvcache.Config{}, err
		}
		config.Merge(conf, fileConf)
	}
	config.Merge(conf, &flagConf)
	return config.Parse(*conf)
}

func run(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	z := log.NewZap(conf.LogLevel, conf.LogDestination)
	defer z.Sync()
	l := log.NewZapLogger(z)
	l.Debugf("Config: %#v", conf)
	if tag.Debug {
		l.Warn("Using debug build. It has more runtime checks and large perfomance overhead.")
	}
	if conf.Threads > 0 {
		runtime.GOMAXPROCS(conf.Threads)
	}

	var collector stats.Collector
	if conf.MetricsAddr != "" {
		collector = serveMetrics(l, conf.MetricsAddr)
	} else {
		collector = statslogger.New(z)
	}

	s, err := kvcache.NewServer(l, conf, collector)
	if err != nil {
		return err
	}
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		l.Infof("Got %v. Shutting down.", <-sig)
		s.Close()
	}()

	l.Infof("Serve on %s.", s.Addr)
	err = s.ListenAndServe()
	if err == kvcache.ErrServerClosed {
		return nil
	}
	return err
}

func serveMetrics(l log.Logger, addr string) stats.Collector {
	reg := prometheus.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		l.Infof("Serve metrics on %s.", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal("Metrics server failed: ", err)
		}
	}()
	return statsprom.New(reg)
}
