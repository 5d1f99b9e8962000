package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_StunServers(t *testing.T) {
	c := NewCatalog()
	servers, err := c.StunServers()
	require.NoError(t, err)
	assert.NotEmpty(t, servers)
	assert.Contains(t, servers, "stun.l.google.com:19302")
}

func TestCatalog_DnsFallbackServers(t *testing.T) {
	c := NewCatalog()
	servers, err := c.DnsFallbackServers()
	require.NoError(t, err)
	assert.NotEmpty(t, servers)
}

func TestCatalog_ReturnsCopiesNotSharedSlice(t *testing.T) {
	c := NewCatalog()
	a, err := c.StunServers()
	require.NoError(t, err)
	a[0] = "mutated"

	b, err := c.StunServers()
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", b[0])
}
