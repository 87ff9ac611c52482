package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevicesCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
token: secret
devices:
  - name: Bedroom
    address: 10.0.0.5
    port: 49153
  - name: Living Room
    address: 10.0.0.6
    port: 49154
`), 0600))

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	require.NoError(t, app.Run([]string{"replrelay", "devices", "--config", path}))

	assert.Equal(t, "Bedroom\t10.0.0.5:49153\nLiving Room\t10.0.0.6:49154\n", out.String())
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte(`listen_addr = "127.0.0.1:0"`), 0600))

	err := newApp().Run([]string{"replrelay", "serve", "--config", path})
	require.ErrorContains(t, err, "token")
}

func TestSendRequiresCommands(t *testing.T) {
	err := newApp().Run([]string{"replrelay", "send", "Bedroom"})
	require.ErrorContains(t, err, "usage: send")
}
