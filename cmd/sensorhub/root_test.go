package sensorhub

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/edgeflare/sensorhub/pkg/config"
	"github.com/edgeflare/sensorhub/pkg/mqtt"
	transportmqtt "github.com/edgeflare/sensorhub/pkg/transport/mqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestBaseURL(t *testing.T) {
	testCases := []struct {
		listen, url, scheme, want string
	}{
		{listen: ":9926", scheme: "http", want: "http://localhost:9926"},
		{listen: ":9926", scheme: "ws", want: "ws://localhost:9926"},
		{listen: "10.0.0.1:80", scheme: "ws", want: "ws://10.0.0.1:80"},
		{listen: ":9926", url: "https://hub.example.com", scheme: "http", want: "https://hub.example.com"},
	}
	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			withConfig(t, &config.Config{Server: config.ServerConfig{ListenAddr: tc.listen}})
			assert.Equal(t, tc.want, baseURL(tc.url, tc.scheme))
		})
	}
}

func TestMQTTOptions(t *testing.T) {
	withConfig(t, &config.Config{MQTT: transportmqtt.Options{
		Options: mqtt.Options{ClientID: "gateway", Username: "u", Servers: []string{"tcp://a:1883"}},
	}})

	opts := mqttOptions(nil)
	assert.Equal(t, []string{"tcp://a:1883"}, opts.Servers)
	assert.Equal(t, "u", opts.Username)
	assert.Empty(t, opts.ClientID)

	opts = mqttOptions([]string{"tcp://b:1883"})
	assert.Equal(t, []string{"tcp://b:1883"}, opts.Servers)
}

func TestVersionFlag(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--version", "--config", writeConfig(t)})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, config.Version+"\n", out.String())
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensorhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: none\n"), 0o600))
	return path
}
