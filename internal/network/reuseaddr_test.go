package network

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReuseAddrRebind(t *testing.T) {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	server, err := ln.Accept()
	require.NoError(t, err)
	server.Close()
	conn.Close()
	require.NoError(t, ln.Close())

	ln, err = lc.Listen(context.Background(), "tcp", addr)
	require.NoError(t, err)
	assert.Equal(t, addr, ln.Addr().String())
	ln.Close()
}
