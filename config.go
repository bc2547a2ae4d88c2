package kvcache

import (
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/skipor/kvcache/cache"
	"github.com/skipor/kvcache/log"
	"github.com/skipor/kvcache/stats"
)

// Config is parsed server configuration.
type Config struct {
	Addr string
	// Threads is GOMAXPROCS value. Zero means runtime default.
	Threads     int
	Capacity    int64
	Policy      string
	IdleTimeout time.Duration
	MaxBodySize int64

	LogDestination io.Writer
	LogLevel       log.Level
	// MetricsAddr is address of Prometheus metrics HTTP endpoint. Empty means stats
	// are written into debug log.
	MetricsAddr string
}

// NewServer creates server with new store. Evictions are counted in st.
// Nil logger and collector drop everything.
func NewServer(l log.Logger, conf Config, st stats.Collector) (*Server, error) {
	if conf.Capacity < 0 {
		return nil, errors.Errorf("negative capacity %v", conf.Capacity)
	}
	policy, err := cache.NewPolicy(conf.Policy)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = stats.Noop{}
	}
	if l == nil {
		l = log.NewNop()
	}
	store := cache.New(l, cache.Config{
		Capacity: conf.Capacity,
		OnEvict: func(key string, size int64) {
			st.IncCounter(stats.MetricEvictions, 1)
		},
	}, policy)
	return &Server{
		Addr: conf.Addr,
		Log:  l,
		ConnMeta: ConnMeta{
			Cache:       cache.NewLocked(store),
			Stats:       st,
			IdleTimeout: conf.IdleTimeout,
			MaxBodySize: conf.MaxBodySize,
		},
	}, nil
}
