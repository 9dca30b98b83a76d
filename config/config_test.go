// (c) 2019-2020, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ordercache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_trials_num: 12\nlog_level: debug\n"), 0o600))

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	require.EqualValues(t, 12, cfg.MaxTrialsNum)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestCLIFlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ordercache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_trials_num: 12\n"), 0o600))

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--max-trials-num=99"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	require.EqualValues(t, 99, cfg.MaxTrialsNum)
}
