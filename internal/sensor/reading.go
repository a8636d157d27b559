// Package sensor turns characteristic notification payloads into readings.
package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Reading is one decoded environmental sample.
type Reading struct {
	Temperature float64 // degrees Celsius
	Humidity    uint8   // percent relative humidity
}

func (r Reading) String() string {
	return fmt.Sprintf("%.1f degC, %d %%RH", r.Temperature, r.Humidity)
}

// ErrPayloadTooShort is returned when a payload cannot hold a full reading.
var ErrPayloadTooShort = errors.New("payload too short")

// PayloadError reports a rejected payload together with its length.
type PayloadError struct {
	Len  int
	Need int
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("payload too short: got %d bytes, need %d", e.Len, e.Need)
}

func (e *PayloadError) Is(target error) bool {
	return target == ErrPayloadTooShort
}

// Decoder converts a raw notification value into a Reading.
// Implementations must not retain payload.
type Decoder interface {
	Decode(payload []byte) (Reading, error)
}

// DecoderFunc adapts a plain function to Decoder.
type DecoderFunc func(payload []byte) (Reading, error)

func (f DecoderFunc) Decode(payload []byte) (Reading, error) {
	return f(payload)
}

// LYWSD03MMCPayloadLen is the minimum notification length carrying a reading.
const LYWSD03MMCPayloadLen = 3

// DecodeLYWSD03MMC decodes the fixed measurement layout: bytes 0-1 are a
// little-endian temperature in hundredths of a degree, byte 2 is humidity.
// Trailing bytes (battery voltage on recent firmware) are ignored.
func DecodeLYWSD03MMC(payload []byte) (Reading, error) {
	if len(payload) < LYWSD03MMCPayloadLen {
		return Reading{}, &PayloadError{Len: len(payload), Need: LYWSD03MMCPayloadLen}
	}
	raw := binary.LittleEndian.Uint16(payload[0:2])
	return Reading{
		Temperature: float64(raw) / 100.0,
		Humidity:    payload[2],
	}, nil
}

type lywsd03mmc struct{}

func (lywsd03mmc) Decode(payload []byte) (Reading, error) {
	return DecodeLYWSD03MMC(payload)
}

// LYWSD03MMC is the default decoder.
var LYWSD03MMC Decoder = lywsd03mmc{}

// Decoder kinds accepted by New.
const (
	KindLYWSD03MMC = "lywsd03mmc"
	KindLua        = "lua"
)

// New returns the decoder registered under kind. script is only used by the
// Lua decoder; empty selects the embedded default script.
func New(kind, script string) (Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindLYWSD03MMC:
		return LYWSD03MMC, nil
	case KindLua:
		return NewLuaDecoder(script)
	default:
		return nil, fmt.Errorf("unknown decoder kind %q", kind)
	}
}
