package network

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCAPWriterRoundTripsSyntheticStream(t *testing.T) {
	m := vlp16(t)
	start := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	src := NewSyntheticSource(SyntheticConfig{Model: m, Start: start, Packets: 10, PositionEvery: 5})

	var buf bytes.Buffer
	w, err := NewPCAPWriter(&buf)
	require.NoError(t, err)

	ctx := context.Background()
	var written []RawPacket
	for {
		pkt, err := src.Next(ctx)
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, w.WritePacket(pkt))
		pkt.Data = append([]byte(nil), pkt.Data...)
		written = append(written, pkt)
	}
	assert.Equal(t, 12, w.Frames())

	replay, err := NewPCAPSource(bytes.NewReader(buf.Bytes()), PCAPConfig{
		Ports:          []int{DefaultDataPort, DefaultPositionPort},
		LinkHeaderSize: m.LinkHeaderSize,
	})
	require.NoError(t, err)
	for i, want := range written {
		got, err := replay.Next(ctx)
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, want.Data, got.Data, "frame %d", i)
		assert.Equal(t, want.DeclaredLength, got.DeclaredLength, "frame %d", i)
		assert.Equal(t, want.Port, got.Port, "frame %d", i)
		assert.True(t, want.CaptureTime.Equal(got.CaptureTime), "frame %d", i)
	}
	_, err = replay.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)
}
