package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())
	assert.NoError(t, NewTestConfig().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Partitions = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.SpecExecWindowSize = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.SpecExecPolicy = "fastest"
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.ResponseTimeout = NewDuration(time.Nanosecond)
	assert.Error(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "tinyoltp-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "site.toml")
	body := `
partitions = 4
spec-exec-policy = "shortest"
spec-exec-window-size = 25
tick-interval = "2s"
`
	require.NoError(t, ioutil.WriteFile(path, []byte(body), 0644))

	cfg := NewDefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))
	assert.Equal(t, 4, cfg.Partitions)
	assert.Equal(t, PolicyShortest, cfg.SpecExecPolicy)
	assert.Equal(t, 25, cfg.SpecExecWindowSize)
	assert.Equal(t, 2*time.Second, cfg.TickInterval.Duration)
	require.NoError(t, cfg.Validate())
}
