// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package decawave reads position fixes from a Decawave DWM1001 UWB tag
// over its UART TLV API and refines them with our own anchor survey.
package decawave

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/relabs-tech/rover_position/internal/data"
)

// TLV types of the dwm_loc_get exchange.
const (
	typeLocGet      = 0x0C
	typeErrCode     = 0x40
	typeTagPosition = 0x41
	typeDistances   = 0x49

	positionLen = 13 // x, y, z int32 mm + quality
	anchorLen   = 20 // address u16, distance u32 mm, quality, position
	maxAnchors  = 12 // keeps the distances TLV length within one byte

	maxFrameLen = 3 + 2 + positionLen + 3 + maxAnchors*anchorLen
)

// statusHeader opens every reply.
var statusHeader = [2]byte{typeErrCode, 1}

// LocGetRequest asks the tag for its latest position and ranges.
var LocGetRequest = []byte{typeLocGet, 0x00}

// ErrFrame means the TLV stream did not match the dwm_loc_get layout.
var ErrFrame = errors.New("decawave: malformed frame")

// APIError is a non-zero status from the module.
type APIError struct {
	Code byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("decawave: API error code %d", e.Code)
}

// AnchorDistance is one anchor the tag ranged against. Lengths in metres.
type AnchorDistance struct {
	Address         uint16      `json:"address"`
	Distance        float64     `json:"distance"`
	Quality         uint8       `json:"quality"`
	Position        data.Vector `json:"position"`
	PositionQuality uint8       `json:"position_quality"`
}

// LocationResponse is the decoded reply to dwm_loc_get.
type LocationResponse struct {
	Tag        data.Vector      `json:"tag"`
	TagQuality uint8            `json:"tag_quality"`
	Anchors    []AnchorDistance `json:"anchors"`
}

// ReadLocation reads one dwm_loc_get reply from r.
func ReadLocation(r io.Reader) (LocationResponse, error) {
	var resp LocationResponse

	typ, val, err := readTLV(r)
	if err != nil {
		return resp, err
	}
	if typ != typeErrCode || len(val) != 1 {
		return resp, fmt.Errorf("%w: expected status TLV, got type 0x%02X len %d", ErrFrame, typ, len(val))
	}
	if val[0] != 0 {
		return resp, &APIError{Code: val[0]}
	}

	typ, val, err = readTLV(r)
	if err != nil {
		return resp, err
	}
	if typ != typeTagPosition || len(val) != positionLen {
		return resp, fmt.Errorf("%w: expected position TLV, got type 0x%02X len %d", ErrFrame, typ, len(val))
	}
	resp.Tag, resp.TagQuality = decodePosition(val)

	typ, val, err = readTLV(r)
	if err != nil {
		return resp, err
	}
	if typ != typeDistances || len(val) < 1 {
		return resp, fmt.Errorf("%w: expected distances TLV, got type 0x%02X len %d", ErrFrame, typ, len(val))
	}
	n := int(val[0])
	if len(val) != 1+n*anchorLen {
		return resp, fmt.Errorf("%w: %d anchors in %d bytes", ErrFrame, n, len(val))
	}
	for i := 0; i < n; i++ {
		b := val[1+i*anchorLen:]
		a := AnchorDistance{
			Address:  binary.LittleEndian.Uint16(b[0:]),
			Distance: float64(binary.LittleEndian.Uint32(b[2:])) / 1000,
			Quality:  b[6],
		}
		a.Position, a.PositionQuality = decodePosition(b[7 : 7+positionLen])
		resp.Anchors = append(resp.Anchors, a)
	}
	return resp, nil
}

// ReadLocationSync skips input up to the next status TLV header and then
// reads one reply, so the late tail of a reply cut off earlier is dropped
// instead of misaligning every later read. skipped counts discarded bytes.
func ReadLocationSync(r io.Reader) (resp LocationResponse, skipped int, err error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return resp, 0, fmt.Errorf("decawave: read TLV header: %w", err)
	}
	for hdr != statusHeader {
		if skipped >= 2*maxFrameLen {
			return resp, skipped, fmt.Errorf("%w: no status TLV in %d bytes", ErrFrame, skipped)
		}
		hdr[0] = hdr[1]
		if _, err := io.ReadFull(r, hdr[1:]); err != nil {
			return resp, skipped, fmt.Errorf("decawave: resync: %w", err)
		}
		skipped++
	}
	resp, err = ReadLocation(io.MultiReader(bytes.NewReader(hdr[:]), r))
	return resp, skipped, err
}

// DecodeLocation decodes a complete reply held in b.
func DecodeLocation(b []byte) (LocationResponse, error) {
	r := bytes.NewReader(b)
	resp, err := ReadLocation(r)
	if err != nil {
		return resp, err
	}
	if r.Len() != 0 {
		return resp, fmt.Errorf("%w: %d trailing bytes", ErrFrame, r.Len())
	}
	return resp, nil
}

// EncodeLocation builds the reply the module would send for resp.
// Lengths are rounded to whole millimetres.
func EncodeLocation(resp LocationResponse) ([]byte, error) {
	if len(resp.Anchors) > maxAnchors {
		return nil, fmt.Errorf("decawave: %d anchors, at most %d fit a frame", len(resp.Anchors), maxAnchors)
	}
	var buf bytes.Buffer
	buf.Write([]byte{typeErrCode, 1, 0})
	buf.Write([]byte{typeTagPosition, positionLen})
	buf.Write(encodePosition(resp.Tag, resp.TagQuality))

	buf.Write([]byte{typeDistances, byte(1 + len(resp.Anchors)*anchorLen), byte(len(resp.Anchors))})
	for _, a := range resp.Anchors {
		var b [7]byte
		binary.LittleEndian.PutUint16(b[0:], a.Address)
		binary.LittleEndian.PutUint32(b[2:], uint32(toMM(a.Distance)))
		b[6] = a.Quality
		buf.Write(b[:])
		buf.Write(encodePosition(a.Position, a.PositionQuality))
	}
	return buf.Bytes(), nil
}

func readTLV(r io.Reader) (byte, []byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, fmt.Errorf("decawave: read TLV header: %w", err)
	}
	val := make([]byte, hdr[1])
	if _, err := io.ReadFull(r, val); err != nil {
		return 0, nil, fmt.Errorf("decawave: read TLV 0x%02X value: %w", hdr[0], err)
	}
	return hdr[0], val, nil
}

func decodePosition(b []byte) (data.Vector, uint8) {
	return data.Vector{
		X: mm(int32(binary.LittleEndian.Uint32(b[0:]))),
		Y: mm(int32(binary.LittleEndian.Uint32(b[4:]))),
		Z: mm(int32(binary.LittleEndian.Uint32(b[8:]))),
	}, b[12]
}

func encodePosition(v data.Vector, quality uint8) []byte {
	b := make([]byte, positionLen)
	binary.LittleEndian.PutUint32(b[0:], uint32(toMM(v.X)))
	binary.LittleEndian.PutUint32(b[4:], uint32(toMM(v.Y)))
	binary.LittleEndian.PutUint32(b[8:], uint32(toMM(v.Z)))
	b[12] = quality
	return b
}

func mm(v int32) float64 { return float64(v) / 1000 }

func toMM(v float64) int32 { return int32(math.Round(v * 1000)) }
