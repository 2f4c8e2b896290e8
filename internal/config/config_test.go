package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, c.App.Port)
	assert.Equal(t, ":8080", c.App.PortString())
	assert.NotEmpty(t, c.App.InstanceID)
	assert.Equal(t, "connectify-"+c.App.InstanceID, c.Kafka.GroupID)
	assert.Equal(t, 15*time.Minute, c.EditWindow)
	assert.Equal(t, time.Hour, c.Retention)
	assert.Equal(t, 25*time.Second, c.PingInterval)
	assert.True(t, c.WS.ClientRelay)
	assert.Empty(t, c.Kafka.Brokers)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  port: 9090
  instance_id: node-1
storage:
  driver: memory
kafka:
  brokers: ["k1:9092", "k2:9092"]
chat:
  edit_window_minutes: 5
`), 0o600))

	t.Setenv("APP_PORT", "9191")
	t.Setenv("WS_CLIENT_RELAY", "false")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, c.App.Port)
	assert.Equal(t, "node-1", c.App.InstanceID)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, 5*time.Minute, c.EditWindow)
	assert.False(t, c.WS.ClientRelay)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		t.Setenv("STORAGE_DRIVER", "memory")
		c, err := Load("")
		require.NoError(t, err)
		return c
	}

	c := base()
	c.Storage.Driver = "sqlite"
	assert.Error(t, c.Validate())

	c = base()
	c.JWT.Enabled = true
	c.JWT.Alg = "HS256"
	assert.Error(t, c.Validate(), "missing secret")
	c.JWT.HSSecret = "s"
	assert.NoError(t, c.Validate())
	c.JWT.Alg = "none"
	assert.Error(t, c.Validate())

	c = base()
	c.Kafka.Brokers = []string{"k:9092"}
	c.Kafka.TopicIn = ""
	assert.Error(t, c.Validate())

	c = base()
	c.Chat.EditWindowMinutes = 0
	assert.Error(t, c.Validate())

	c = base()
	c.Presence.RetentionMinutes = 0
	assert.Error(t, c.Validate())
}
