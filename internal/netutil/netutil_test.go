package netutil

import (
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreePort(t *testing.T) {
	port, err := FreePort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	require.NoError(t, err)
	l.Close()
}

func TestIsIPAddr(t *testing.T) {
	assert.True(t, IsIPAddr("10.1.2.3"))
	assert.True(t, IsIPAddr("255.255.255.255"))
	assert.False(t, IsIPAddr("256.1.1.1"))
	assert.False(t, IsIPAddr("node-1"))
	assert.False(t, IsIPAddr("::1"))
	assert.False(t, IsIPAddr(""))
}

func TestLocalIP(t *testing.T) {
	assert.True(t, IsIPAddr(LocalIP()))
}

func TestIsLocal(t *testing.T) {
	assert.True(t, IsLocal("localhost"))
	assert.True(t, IsLocal(LocalIP()))
	assert.False(t, IsLocal("203.0.113.77"))

	if host, err := os.Hostname(); err == nil && host != "" {
		assert.True(t, IsLocal(host))
		assert.Equal(t, host, HostNameOrIP())
	}
}
