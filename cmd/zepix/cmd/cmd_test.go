package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigInitThenValidate(t *testing.T) {
	p := filepath.Join(t.TempDir(), "conf", "zepix.yaml")

	out, err := execute(t, "config", "init", "-o", p)
	require.NoError(t, err)
	assert.Contains(t, out, "Created default configuration")

	_, err = execute(t, "config", "init", "-o", p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out, err = execute(t, "config", "validate", "-f", p)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "Broker: paper")
}

func TestTradesOnEmptyStore(t *testing.T) {
	t.Setenv("ZEPIX_STORE_PATH", filepath.Join(t.TempDir(), "zepix.db"))

	out, err := execute(t, "trades", "--since", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "no closed trades")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "zepix version dev")
}
