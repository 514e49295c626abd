package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSource(t *testing.T, data, position []MockUDPPacket) (*UDPSource, *MockUDPSocketFactory) {
	t.Helper()
	factory := NewMockUDPSocketFactory(
		NewMockUDPSocket(DefaultDataPort, data),
		NewMockUDPSocket(DefaultPositionPort, position),
	)
	src, err := NewUDPSource(UDPConfig{
		Address:        "127.0.0.1",
		RcvBuf:         4 << 20,
		Wait:           200 * time.Millisecond,
		LinkHeaderSize: 42,
		Factory:        factory,
	})
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src, factory
}

func TestUDPSourceMultiplexesBothPorts(t *testing.T) {
	muteLogs(t)
	src, factory := newMockSource(t,
		[]MockUDPPacket{{Data: make([]byte, 1206)}, {Data: make([]byte, 1206)}},
		[]MockUDPPacket{{Data: make([]byte, 512)}},
	)

	require.Len(t, factory.ListenCalls, 2)
	assert.Equal(t, 8309, factory.ListenCalls[0].Addr.Port)
	assert.Equal(t, 8308, factory.ListenCalls[1].Addr.Port)
	assert.Equal(t, "127.0.0.1", factory.ListenCalls[0].Addr.IP.String())
	assert.Equal(t, 4<<20, factory.Sockets[8309].ReadBufferSize)

	byPort := map[int][]int{}
	for i := 0; i < 3; i++ {
		pkt, err := src.Next(context.Background())
		require.NoError(t, err)
		byPort[pkt.Port] = append(byPort[pkt.Port], pkt.DeclaredLength)
		assert.False(t, pkt.CaptureTime.IsZero())
	}
	assert.Equal(t, map[int][]int{8309: {1248, 1248}, 8308: {554}}, byPort)
}

func TestUDPSourceBoundedWait(t *testing.T) {
	muteLogs(t)
	src, _ := newMockSource(t, nil, nil)

	start := time.Now()
	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestUDPSourceCancellation(t *testing.T) {
	muteLogs(t)
	src, _ := newMockSource(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUDPSourceReadErrorSurfaces(t *testing.T) {
	muteLogs(t)
	src, factory := newMockSource(t, nil, nil)
	boom := errors.New("boom")
	sock := factory.Sockets[8308]
	sock.mu.Lock()
	sock.ReadError = boom
	sock.mu.Unlock()

	var err error
	for i := 0; i < 10; i++ {
		_, err = src.Next(context.Background())
		if !errors.Is(err, ErrTimeout) {
			break
		}
	}
	assert.ErrorIs(t, err, boom)
}

func TestUDPSourceCloseClosesSockets(t *testing.T) {
	muteLogs(t)
	src, factory := newMockSource(t, nil, nil)

	require.NoError(t, src.Close())
	assert.True(t, factory.Sockets[8309].IsClosed())
	assert.True(t, factory.Sockets[8308].IsClosed())
	require.NoError(t, src.Close(), "second close is a no-op")

	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestUDPSourceListenFailure(t *testing.T) {
	muteLogs(t)
	data := NewMockUDPSocket(DefaultDataPort, nil)
	factory := NewMockUDPSocketFactory(data)

	_, err := NewUDPSource(UDPConfig{Factory: factory})
	require.Error(t, err)
	assert.True(t, data.IsClosed(), "the socket bound before the failure is released")
}

func TestUDPSourceReadBufferWarningIsNotFatal(t *testing.T) {
	muteLogs(t)
	data := NewMockUDPSocket(DefaultDataPort, nil)
	data.SetReadBufferError = errors.New("not permitted")
	factory := NewMockUDPSocketFactory(data, NewMockUDPSocket(DefaultPositionPort, nil))

	src, err := NewUDPSource(UDPConfig{Factory: factory, RcvBuf: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, src.Close())
}
