// Package config contains kvcached file and command line configuration.
package config

import (
	"encoding/json"
	"io"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/stackerr"
	"github.com/pkg/errors"

	"github.com/skipor/kvcache"
	"github.com/skipor/kvcache/cache"
	"github.com/skipor/kvcache/internal/util"
	"github.com/skipor/kvcache/log"
)

// Config is user facing configuration. Zero field value means "not set".
type Config struct {
	Port    int    `json:"port,omitempty"`
	Host    string `json:"host,omitempty"`
	Threads int    `json:"threads,omitempty"`
	// Size values 10g, 128m, 1024k, 1000000b, or plain integer.
	MaxMemory      string `json:"max-memory,omitempty"`
	Policy         string `json:"policy,omitempty"`
	IdleTimeout    string `json:"idle-timeout,omitempty"`
	MaxBodySize    string `json:"max-body-size,omitempty"`
	LogDestination string `json:"log-destination,omitempty"` // Stdout, stderr, or filepath.
	LogLevel       string `json:"log-level,omitempty"`
	MetricsAddr    string `json:"metrics-addr,omitempty"`
}

func Default() *Config {
	return &Config{
		Port:           kvcache.DefaultPort,
		Host:           kvcache.DefaultHost,
		Threads:        1,
		MaxMemory:      "1024",
		Policy:         cache.PolicyLRU,
		IdleTimeout:    kvcache.DefaultIdleTimeout.String(),
		MaxBodySize:    "16m",
		LogDestination: "stderr",
		LogLevel:       "info",
	}
}

func Parse(conf Config) (kconf kvcache.Config, err error) {
	kconf.LogDestination, err = logDestination(conf.LogDestination)
	if err != nil {
		err = stackerr.Newf("Log destination open error: %v", err)
		return
	}
	kconf.LogLevel, err = log.LevelFromString(conf.LogLevel)
	if err != nil {
		err = stackerr.Newf("Log level parse error: %v", err)
		return
	}
	kconf.Capacity, err = parseSize(conf.MaxMemory)
	if err != nil {
		err = stackerr.Newf("Max memory parse error: %v", err)
		return
	}
	kconf.MaxBodySize, err = parseSize(conf.MaxBodySize)
	if err != nil {
		err = stackerr.Newf("Max body size parse error: %v", err)
		return
	}
	if _, err = cache.NewPolicy(conf.Policy); err != nil {
		err = stackerr.Newf("Policy parse error: %v", err)
		return
	}
	kconf.Policy = conf.Policy
	kconf.IdleTimeout, err = time.ParseDuration(conf.IdleTimeout)
	if err != nil {
		err = stackerr.Newf("Idle timeout parse error: %v", err)
		return
	}
	if conf.Threads < 0 {
		err = stackerr.Newf("Negative threads number %v.", conf.Threads)
		return
	}
	kconf.Threads = conf.Threads
	if conf.Port <= 0 || conf.Port > 65535 {
		err = stackerr.Newf("Invalid port %v.", conf.Port)
		return
	}
	kconf.Addr = net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port))
	kconf.MetricsAddr = conf.MetricsAddr
	return
}

// Load reads JSON config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, stackerr.Wrap(err)
	}
	conf := &Config{}
	err = json.Unmarshal(data, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return conf, nil
}

// Merge overwrites def values with non zero override values.
func Merge(def, override *Config) {
	defVal := reflect.ValueOf(def).Elem()
	overrideVal := reflect.ValueOf(override).Elem()
	for i, end := 0, defVal.NumField(); i < end; i++ {
		overrideVal := overrideVal.Field(i)
		if !util.IsZeroVal(overrideVal) {
			defVal.Field(i).Set(overrideVal)
		}
	}
}

func Marshal(conf *Config) []byte {
	data, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		panic(err)
	}
	return data
}

func parseSize(s string) (size int64, err error) {
	if s == "" {
		err = errors.New("Empty size.")
		return
	}
	sep := len(s) - 1
	sizeStr := s[:sep]
	exponentStr := s[sep:]
	var exponent uint32
	switch strings.ToLower(exponentStr) {
	case "b":
		exponent = 0
	case "k":
		exponent = 10
	case "m":
		exponent = 20
	case "g":
		exponent = 30
	default:
		// Plain number of bytes.
		sizeStr = s
	}
	size, err = strconv.ParseInt(sizeStr, 10, 64-int(exponent))
	if err != nil {
		err = errors.Errorf("Size parse error: %s", err)
		return
	}
	if size < 0 {
		err = errors.New("Negative size.")
		return
	}
	size <<= exponent
	return
}

func logDestination(dest string) (w io.Writer, err error) {
	switch strings.ToLower(dest) {
	case "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		w, err = os.OpenFile(dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	}
	return
}
