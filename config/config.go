// (c) 2019-2020, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the cluster-wide ordering-cache configuration: most
// importantly MAX_TRIALS_NUM, which spec.md requires be "a single source of
// truth" across every replica in the cluster. A mismatch here is a silent
// correctness bug (replicas disagree on skip points), so this package
// treats it as an explicit, auditable config value rather than a per-call
// default.
package config

import (
	"fmt"

	"github.com/spf13/cast"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the cluster-wide ordering-cache configuration.
type Config struct {
	// MaxTrialsNum is the number of observations a roster member's gap
	// survives before the skip policy fires. Must match across every
	// replica in the cluster.
	MaxTrialsNum uint32 `mapstructure:"max_trials_num"`

	// MetricsAddr is the address the Prometheus handler listens on, empty
	// to disable.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// LogLevel is one of trace, debug, info, warn, error, crit.
	LogLevel string `mapstructure:"log_level"`

	// LogFile, if set, makes cmd/ordercachectl build a rotating
	// log.FileHandler instead of a terminal handler. log.NewLogger ignores
	// the handler it is given, so this does not change where the process
	// logs.
	LogFile string `mapstructure:"log_file"`
}

// Defaults matches spec.md §6: MAX_TRIALS_NUM default is 50.
func Defaults() Config {
	return Config{
		MaxTrialsNum: 50,
		MetricsAddr:  "",
		LogLevel:     "info",
		LogFile:      "",
	}
}

// RegisterFlags registers CLI overrides for every Config field onto fs,
// mirroring the teacher's cmd/evm-node use of pflag-compatible flag
// surfaces wired through urfave/cli.
func RegisterFlags(fs *flag.FlagSet) {
	d := Defaults()
	fs.Uint32("max-trials-num", d.MaxTrialsNum, "cluster-wide trial budget before the skip policy fires; must match every replica")
	fs.String("metrics-addr", d.MetricsAddr, "address to serve Prometheus metrics on, empty to disable")
	fs.String("log-level", d.LogLevel, "log level: trace, debug, info, warn, error, crit")
	fs.String("log-file", d.LogFile, "rotate the ordering-decision log to this file instead of stderr")
}

// Load reads configPath (if non-empty) as YAML into viper, binds fs's flags
// over it, and unmarshals the result. A flag explicitly set on fs always
// wins over the file; the file always wins over Defaults().
func Load(configPath string, fs *flag.FlagSet) (Config, error) {
	v := viper.New()
	for key, val := range map[string]interface{}{
		"max_trials_num": Defaults().MaxTrialsNum,
		"metrics_addr":   Defaults().MetricsAddr,
		"log_level":      Defaults().LogLevel,
		"log_file":       Defaults().LogFile,
	} {
		v.SetDefault(key, val)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("ordercache: reading config %s: %w", configPath, err)
		}
	}

	if fs != nil {
		if err := v.BindPFlag("max_trials_num", fs.Lookup("max-trials-num")); err != nil {
			return Config{}, err
		}
		if err := v.BindPFlag("metrics_addr", fs.Lookup("metrics-addr")); err != nil {
			return Config{}, err
		}
		if err := v.BindPFlag("log_level", fs.Lookup("log-level")); err != nil {
			return Config{}, err
		}
		if err := v.BindPFlag("log_file", fs.Lookup("log-file")); err != nil {
			return Config{}, err
		}
	}

	cfg := Config{
		MaxTrialsNum: cast.ToUint32(v.Get("max_trials_num")),
		MetricsAddr:  v.GetString("metrics_addr"),
		LogLevel:     v.GetString("log_level"),
		LogFile:      v.GetString("log_file"),
	}
	return cfg, nil
}
