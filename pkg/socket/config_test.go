package socket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyConfig(t *testing.T) {
	assert.NoError(t, VerifyConfig(DefaultConfig()))
	assert.Error(t, VerifyConfig(nil))

	c := DefaultConfig()
	c.ConnectTimeout = -1
	assert.Error(t, VerifyConfig(c))

	c = DefaultConfig()
	c.SendBufferSize = -1
	assert.Error(t, VerifyConfig(c))

	c = DefaultConfig()
	c.PreferFamily = 7
	assert.Error(t, VerifyConfig(c))
}

func TestConfigDefaults(t *testing.T) {
	var c *Config
	d := c.orDefault()
	assert.Equal(t, DefaultBacklog, d.Backlog)
	assert.False(t, d.ReuseAddress)
	assert.False(t, d.NonBlocking)

	c = &Config{Backlog: -3}
	d = c.orDefault()
	assert.Equal(t, DefaultBacklog, d.Backlog)
	assert.Equal(t, DefaultMaxFrameSize, d.MaxFrameSize)
	assert.Equal(t, -3, c.Backlog)
}

func TestLogLevelName(t *testing.T) {
	defer SetLogLevel(LogWarn)
	assert.True(t, SetLogLevelName("debug"))
	assert.True(t, enabled(LogDebug))
	assert.True(t, SetLogLevelName("5"))
	assert.False(t, enabled(LogError))
	assert.False(t, SetLogLevelName("loud"))
}
