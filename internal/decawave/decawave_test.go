// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package decawave

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/rover_position/internal/calibration"
	"github.com/relabs-tech/rover_position/internal/data"
	"github.com/relabs-tech/rover_position/internal/filter"
)

// frame is a dwm_loc_get reply with the tag at (1.000, 2.000, 0.500) and
// one anchor 0x1234 at 3.000 m.
var frame = []byte{
	0x40, 0x01, 0x00,
	0x41, 0x0D,
	0xE8, 0x03, 0x00, 0x00, // 1000
	0xD0, 0x07, 0x00, 0x00, // 2000
	0xF4, 0x01, 0x00, 0x00, // 500
	0x64,
	0x49, 0x15, 0x01,
	0x34, 0x12,
	0xB8, 0x0B, 0x00, 0x00, // 3000
	0x50,
	0x18, 0xFC, 0xFF, 0xFF, // -1000
	0x00, 0x00, 0x00, 0x00,
	0x46, 0x00, 0x00, 0x00, // 70
	0x5A,
}

func TestDecodeLocation(t *testing.T) {
	resp, err := DecodeLocation(frame)
	require.NoError(t, err)
	assert.Equal(t, data.Vector{X: 1, Y: 2, Z: 0.5}, resp.Tag)
	assert.Equal(t, uint8(100), resp.TagQuality)
	require.Len(t, resp.Anchors, 1)
	a := resp.Anchors[0]
	assert.Equal(t, uint16(0x1234), a.Address)
	assert.Equal(t, 3.0, a.Distance)
	assert.Equal(t, uint8(0x50), a.Quality)
	assert.Equal(t, data.Vector{X: -1, Y: 0, Z: 0.07}, a.Position)
	assert.Equal(t, uint8(0x5A), a.PositionQuality)

	b, err := EncodeLocation(resp)
	require.NoError(t, err)
	assert.Equal(t, frame, b)
}

func TestDecodeErrors(t *testing.T) {
	_, err := DecodeLocation([]byte{0x40, 0x01, 0x02})
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, byte(2), api.Code)

	_, err = DecodeLocation(frame[:10])
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	bad := append([]byte(nil), frame...)
	bad[3] = 0x42
	_, err = DecodeLocation(bad)
	assert.ErrorIs(t, err, ErrFrame)

	bad = append([]byte(nil), frame...)
	bad[20] = 2 // claims two anchors
	_, err = DecodeLocation(bad)
	assert.ErrorIs(t, err, ErrFrame)

	_, err = DecodeLocation(append(append([]byte(nil), frame...), 0x00))
	assert.ErrorIs(t, err, ErrFrame, "trailing bytes")

	_, err = EncodeLocation(LocationResponse{Anchors: make([]AnchorDistance, maxAnchors+1)})
	assert.Error(t, err)
}

// fakeTag answers every request with the same frame.
type fakeTag struct {
	requests [][]byte
	reply    bytes.Buffer
	closed   int
}

func (f *fakeTag) Write(p []byte) (int, error) {
	f.requests = append(f.requests, append([]byte(nil), p...))
	f.reply.Write(frame)
	return len(p), nil
}

func (f *fakeTag) Read(p []byte) (int, error) { return f.reply.Read(p) }

func (f *fakeTag) Close() error {
	f.closed++
	return nil
}

type countClock struct{ t float64 }

func (c *countClock) Now() float64 {
	c.t++
	return c.t
}

func TestProvider(t *testing.T) {
	tag := &fakeTag{}
	p := NewProvider(tag, 100*time.Millisecond, &countClock{})
	now := time.Unix(1000, 0)
	var slept time.Duration
	p.now = func() time.Time { return now }
	p.sleep = func(d time.Duration) {
		slept += d
		now = now.Add(d)
	}

	_, err := p.Get()
	assert.ErrorIs(t, err, ErrNotPolled)

	require.True(t, p.Poll(time.Second), "first update is due immediately")
	d, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, 1.0, d.Timestamp)
	assert.Equal(t, data.Vector{X: 1, Y: 2, Z: 0.5}, d.Value.Tag)
	assert.Equal(t, [][]byte{LocGetRequest}, tag.requests)

	assert.False(t, p.Poll(10*time.Millisecond), "next update is 100ms away")
	require.True(t, p.Poll(time.Second))
	assert.Equal(t, 100*time.Millisecond, slept)
	_, err = p.Get()
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, tag.closed)
	assert.False(t, p.Poll(time.Second))
	_, err = p.Get()
	assert.ErrorIs(t, err, ErrClosed)
}

var square = []data.Vector{
	{X: 0, Y: 0, Z: 0.1},
	{X: 4, Y: 0, Z: 0.1},
	{X: 4, Y: 3, Z: 0.1},
	{X: 0, Y: 3, Z: 0.1},
}

func rangesTo(p data.Vector, anchors []data.Vector) []float64 {
	d := make([]float64, len(anchors))
	for i, a := range anchors {
		h := data.Vector{X: p.X - a.X, Y: p.Y - a.Y}
		d[i] = h.Magnitude()
	}
	return d
}

func TestTrilaterate(t *testing.T) {
	want := data.Vector{X: 1.2, Y: 2.1}
	got, err := Trilaterate(square, rangesTo(want, square))
	require.NoError(t, err)
	assert.InDelta(t, 1.2, got.X, 1e-9)
	assert.InDelta(t, 2.1, got.Y, 1e-9)
	assert.InDelta(t, 0.1, got.Z, 1e-12, "mean anchor height")

	got, err = Trilaterate(square[:3], rangesTo(want, square[:3]))
	require.NoError(t, err)
	assert.InDelta(t, 1.2, got.X, 1e-9)
	assert.InDelta(t, 2.1, got.Y, 1e-9)

	_, err = Trilaterate(square[:2], []float64{1, 2})
	assert.ErrorIs(t, err, ErrTooFewAnchors)

	line := []data.Vector{{X: 0}, {X: 1}, {X: 2}}
	_, err = Trilaterate(line, []float64{1, 1, 1})
	assert.ErrorIs(t, err, ErrDegenerate)

	_, err = Trilaterate(square, []float64{1})
	assert.Error(t, err)
}

func TestTrilaterateNoisyRanges(t *testing.T) {
	want := data.Vector{X: 2, Y: 1.5}
	d := rangesTo(want, square)
	d[0] += 0.02
	d[2] -= 0.02
	got, err := Trilaterate(square, d)
	require.NoError(t, err)
	assert.InDelta(t, 2, got.X, 0.05)
	assert.InDelta(t, 1.5, got.Y, 0.05)
}

func testLayout() *calibration.AnchorLayout {
	l := &calibration.AnchorLayout{}
	for i, p := range square {
		l.Anchors = append(l.Anchors, calibration.Anchor{Address: uint16(0x10 + i), Position: p})
	}
	return l
}

func TestTrilaterationFilter(t *testing.T) {
	scaler := calibration.NewRangeScaler()
	scaler.Offset = 0.5
	f := NewTrilaterationFilter("trilaterate", testLayout(), scaler)
	var got []data.Data[LocationResponse]
	f.Add(filter.NewSink[LocationResponse]("out", func(d data.Data[LocationResponse]) error {
		got = append(got, d)
		return nil
	}))

	want := data.Vector{X: 3, Y: 1}
	in := LocationResponse{Tag: data.Vector{X: 9, Y: 9}, TagQuality: 40}
	for i, r := range rangesTo(want, square) {
		in.Anchors = append(in.Anchors, AnchorDistance{Address: uint16(0x10 + i), Distance: r + 0.5})
	}
	in.Anchors = append(in.Anchors, AnchorDistance{Address: 0x99, Distance: 7})

	require.NoError(t, f.Receive(data.New(in, 12)))
	require.Len(t, got, 1)
	out := got[0]
	assert.Equal(t, 12.0, out.Timestamp)
	assert.InDelta(t, 3, out.Value.Tag.X, 1e-9)
	assert.InDelta(t, 1, out.Value.Tag.Y, 1e-9)
	assert.Equal(t, uint8(40), out.Value.TagQuality)
	require.Len(t, out.Value.Anchors, 5)
	assert.Equal(t, square[2], out.Value.Anchors[2].Position, "layout position replaces the reported one")
	assert.InDelta(t, rangesTo(want, square)[2], out.Value.Anchors[2].Distance, 1e-12, "corrected range")
	assert.Equal(t, 7.0, out.Value.Anchors[4].Distance, "unknown anchor passes through")
	assert.Equal(t, 9.0, in.Tag.X, "input is not modified")
}

func TestTrilaterationFilterTemperature(t *testing.T) {
	scaler := &calibration.RangeScaler{Multiplier: 1, ReferenceTemperature: 20, TemperatureCoefficient: 0.01}
	f := NewTrilaterationFilter("trilaterate", testLayout(), scaler)
	var got LocationResponse
	f.Add(filter.NewSink[LocationResponse]("out", func(d data.Data[LocationResponse]) error {
		got = d.Value
		return nil
	}))
	in := LocationResponse{Anchors: []AnchorDistance{{Address: 0x10, Distance: 2}}}

	_ = f.Receive(data.New(in, 1))
	assert.InDelta(t, 2, got.Anchors[0].Distance, 1e-12, "reference temperature until told otherwise")

	f.SetTemperature(30)
	_ = f.Receive(data.New(in, 2))
	assert.InDelta(t, 1.9, got.Anchors[0].Distance, 1e-12)
}

func TestTrilaterationFilterFallsBack(t *testing.T) {
	f := NewTrilaterationFilter("trilaterate", testLayout(), calibration.NewRangeScaler())
	var got []data.Data[LocationResponse]
	f.Add(filter.NewSink[LocationResponse]("out", func(d data.Data[LocationResponse]) error {
		got = append(got, d)
		return nil
	}))
	in := LocationResponse{Tag: data.Vector{X: 1, Y: 2}, Anchors: []AnchorDistance{{Address: 0x10, Distance: 2}}}
	err := f.Receive(data.New(in, 1))
	assert.ErrorIs(t, err, ErrTooFewAnchors)
	require.Len(t, got, 1)
	assert.Equal(t, data.Vector{X: 1, Y: 2}, got[0].Value.Tag, "the tag's own fix is forwarded")
}

func TestToVectorToPosition(t *testing.T) {
	toVec := NewToVector("vector")
	toPos := filter.Then[data.Vector](toVec, NewToPosition("position"))
	var got data.Data[data.Position]
	toPos.Add(filter.NewSink[data.Position]("out", func(d data.Data[data.Position]) error {
		got = d
		return nil
	}))

	require.NoError(t, toVec.Receive(data.New(LocationResponse{Tag: data.Vector{X: 1, Y: -2, Z: 0.3}}, 5)))
	assert.Equal(t, 5.0, got.Timestamp)
	assert.Equal(t, data.Vector{X: 1, Y: -2, Z: 0.3}, got.Value.Position)
	assert.Nil(t, got.Value.Attitude)
}

func TestProviderReadError(t *testing.T) {
	p := NewProvider(&brokenPort{}, time.Millisecond, &countClock{})
	p.sleep = func(time.Duration) {}
	require.True(t, p.Poll(time.Second))
	_, err := p.Get()
	assert.Error(t, err)
}

type brokenPort struct{}

func (brokenPort) Write(p []byte) (int, error) { return 0, errors.New("unplugged") }
func (brokenPort) Read(p []byte) (int, error)  { return 0, io.EOF }
func (brokenPort) Close() error                { return nil }

// laggyTag answers request n with replies[n]; a reply split across two
// entries models one cut off by the inter-character timeout.
type laggyTag struct {
	replies [][]byte
	buf     bytes.Buffer
}

func (l *laggyTag) Write(p []byte) (int, error) {
	if len(l.replies) > 0 {
		l.buf.Write(l.replies[0])
		l.replies = l.replies[1:]
	}
	return len(p), nil
}

func (l *laggyTag) Read(p []byte) (int, error) { return l.buf.Read(p) }
func (l *laggyTag) Close() error                { return nil }

func TestProviderRecoversFromTruncatedReply(t *testing.T) {
	tail := append(append([]byte(nil), frame[12:]...), frame...)
	tag := &laggyTag{replies: [][]byte{frame[:12], tail, frame, frame}}
	p := NewProvider(tag, time.Millisecond, &countClock{})
	p.sleep = func(time.Duration) {}

	require.True(t, p.Poll(time.Second))
	_, err := p.Get()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	for i := 0; i < 3; i++ {
		require.True(t, p.Poll(time.Second))
		d, err := p.Get()
		require.NoError(t, err, "reply %d", i)
		assert.Equal(t, data.Vector{X: 1, Y: 2, Z: 0.5}, d.Value.Tag)
		require.Len(t, d.Value.Anchors, 1)
	}
	assert.Zero(t, tag.buf.Len())
}

func TestReadLocationSync(t *testing.T) {
	resp, skipped, err := ReadLocationSync(bytes.NewReader(append([]byte{0x00, 0x5A, 0x40}, frame...)))
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	assert.Equal(t, uint8(100), resp.TagQuality)

	_, _, err = ReadLocationSync(bytes.NewReader(make([]byte, 4*maxFrameLen)))
	assert.ErrorIs(t, err, ErrFrame)

	_, _, err = ReadLocationSync(bytes.NewReader([]byte{0x00, 0x00}))
	assert.ErrorIs(t, err, io.EOF)
}
