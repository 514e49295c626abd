package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidartime/internal/gps"
	"github.com/banshee-data/lidartime/internal/lidar/parse"
	"github.com/banshee-data/lidartime/internal/lidar/timing"
)

func TestSyntheticSourceStream(t *testing.T) {
	m := vlp16(t)
	start := time.Date(2024, 3, 5, 14, 59, 59, 0, time.UTC)
	src := NewSyntheticSource(SyntheticConfig{Model: m, Start: start, Packets: 1000, PositionEvery: 500})
	dec := parse.NewDecoder(m)
	ctx := context.Background()

	var firing, position int
	var prevOffset uint32
	var rolledOver bool
	for {
		raw, err := src.Next(ctx)
		if err != nil {
			require.ErrorIs(t, err, ErrEndOfStream)
			break
		}
		switch dec.Classify(raw.DeclaredLength) {
		case parse.PacketFiring:
			assert.Equal(t, DefaultDataPort, raw.Port)
			pkt, err := dec.DecodeFiringPacket(raw.Data)
			require.NoError(t, err)
			assert.Zero(t, pkt.BadFlags)
			if firing > 0 && pkt.Timestamp < prevOffset {
				rolledOver = true
			} else if firing > 0 {
				d := pkt.Timestamp - prevOffset
				assert.True(t, d == 1327 || d == 1328, "packet %d interval %d", firing, d)
			}
			prevOffset = pkt.Timestamp
			firing++
		case parse.PacketPosition:
			assert.Equal(t, DefaultPositionPort, raw.Port)
			pkt, err := dec.DecodePositionPacket(raw.Data)
			require.NoError(t, err)
			ref, err := gps.ParseTimeSentence(pkt.NMEA)
			require.NoError(t, err)
			// The sentence carries milliseconds only.
			assert.InDelta(t, float64(pkt.Timestamp), float64(ref-timing.TopOfHour(ref)), 1000)
			position++
		default:
			t.Fatalf("unclassifiable packet of declared length %d", raw.DeclaredLength)
		}
	}
	assert.Equal(t, 1000, firing)
	assert.Equal(t, 2, position)
	assert.True(t, rolledOver, "stream starting a second before the hour crosses it")
}

func TestSyntheticSourceAzimuthAdvances(t *testing.T) {
	m := vlp16(t)
	src := NewSyntheticSource(SyntheticConfig{Model: m, Packets: 1})
	raw, err := src.Next(context.Background())
	require.NoError(t, err)

	pkt, err := parse.NewDecoder(m).DecodeFiringPacket(raw.Data)
	require.NoError(t, err)
	for b := 1; b < len(pkt.Blocks); b++ {
		d := int(pkt.Blocks[b].Azimuth) - int(pkt.Blocks[b-1].Azimuth)
		assert.InDelta(t, 80, d, 1, "block %d", b)
	}
}

func TestSyntheticSourceJitter(t *testing.T) {
	m := vlp16(t)
	src := NewSyntheticSource(SyntheticConfig{Model: m, Packets: 4, JitterEvery: 2, JitterUs: 500,
		Start: time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)})
	dec := parse.NewDecoder(m)

	var offsets []uint32
	for {
		raw, err := src.Next(context.Background())
		if err != nil {
			break
		}
		pkt, err := dec.DecodeFiringPacket(raw.Data)
		require.NoError(t, err)
		offsets = append(offsets, pkt.Timestamp)
	}
	assert.Equal(t, []uint32{0, 1327, 2654 + 500, 3981}, offsets)
}

func TestSyntheticSourceCancellation(t *testing.T) {
	src := NewSyntheticSource(SyntheticConfig{Model: vlp16(t), Speed: 1})
	ctx, cancel := context.WithCancel(context.Background())
	_, err := src.Next(ctx)
	require.NoError(t, err)
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, src.Close())
}
