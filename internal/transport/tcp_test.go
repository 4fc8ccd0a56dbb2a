package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEchoSensor answers every request line with "<line>\n00P\n\n".
func startEchoSensor(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				sc := bufio.NewScanner(c)
				for sc.Scan() {
					c.Write([]byte(sc.Text() + "\n00P\n\n"))
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestTCP_SendReceive(t *testing.T) {
	addr := startEchoSensor(t)
	tr := NewTCP()
	require.NoError(t, tr.Connect(context.Background(), addr, time.Second))
	defer tr.Close()

	n, err := tr.Send([]byte("BM\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var got []byte
	for len(got) < len("BM\n00P\n\n") {
		chunk, err := tr.Receive(4)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(chunk), 4)
		got = append(got, chunk...)
	}
	assert.Equal(t, "BM\n00P\n\n", string(got))
}

func TestTCP_ReceiveTimeout(t *testing.T) {
	addr := startEchoSensor(t)
	tr := NewTCP()
	require.NoError(t, tr.Connect(context.Background(), addr, 20*time.Millisecond))
	defer tr.Close()

	_, err := tr.Receive(16)
	require.Error(t, err)
	var te interface{ Timeout() bool }
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Timeout())
}

func TestTCP_NotConnected(t *testing.T) {
	tr := NewTCP()
	_, err := tr.Send([]byte("BM\n"))
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = tr.Receive(8)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, tr.Close())
}

func TestTCP_ReconnectClosesPrevious(t *testing.T) {
	addr := startEchoSensor(t)
	tr := NewTCP().(*TCP)
	require.NoError(t, tr.Connect(context.Background(), addr, time.Second))
	first := tr.conn
	require.NoError(t, tr.Connect(context.Background(), addr, time.Second))
	defer tr.Close()

	assert.NotSame(t, first, tr.conn)
	// Writing to the first connection fails once it has been closed.
	_, err := first.Write([]byte("BM\n"))
	assert.Error(t, err)
}

func TestTCP_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	tr := NewTCP()
	assert.Error(t, tr.Connect(context.Background(), addr, 100*time.Millisecond))
}
