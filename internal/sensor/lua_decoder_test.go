package sensor_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/srg/envbridge/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type LuaDecoderTestSuite struct {
	suite.Suite
	decoder *sensor.LuaDecoder
}

func (s *LuaDecoderTestSuite) SetupTest() {
	d, err := sensor.NewLuaDecoder("")
	s.Require().NoError(err, "embedded script MUST load")
	s.decoder = d
}

func (s *LuaDecoderTestSuite) TearDownTest() {
	s.decoder.Close()
}

func (s *LuaDecoderTestSuite) TestEmbeddedScriptMatchesFixedLayout() {
	// GOAL: Verify the embedded Lua script produces the same readings as the fixed-layout decoder
	//
	// TEST SCENARIO: Decode several payloads with both decoders → readings are identical

	payloads := [][]byte{
		{0x0A, 0x01, 0x32},
		{0x1C, 0x09, 0x2D, 0x8B, 0x0B},
		{0x00, 0x00, 0x00},
		{0xFF, 0xFF, 0xFF},
	}

	for _, p := range payloads {
		want, err := sensor.DecodeLYWSD03MMC(p)
		s.Require().NoError(err)

		got, err := s.decoder.Decode(p)
		s.Require().NoError(err, "Lua decode MUST succeed for % X", p)
		s.Equal(want, got, "Lua decoder MUST match the fixed layout for % X", p)
	}
}

func (s *LuaDecoderTestSuite) TestShortPayloadFails() {
	// GOAL: The Lua decoder rejects short payloads exactly like the fixed-layout decoder
	//
	// TEST SCENARIO: 0, 1 and 2 byte payloads → ErrPayloadTooShort with the same PayloadError as the fixed layout

	for _, p := range [][]byte{nil, {0x0A}, {0x0A, 0x01}} {
		_, want := sensor.DecodeLYWSD03MMC(p)

		_, err := s.decoder.Decode(p)
		s.Require().ErrorIs(err, sensor.ErrPayloadTooShort, "short payload % X MUST be reported as too short", p)

		var perr *sensor.PayloadError
		s.Require().ErrorAs(err, &perr)
		s.Equal(want, perr, "Lua decoder MUST report the same length and need for % X", p)
	}

	r, err := s.decoder.Decode([]byte{0x0A, 0x01, 0x32})
	s.NoError(err, "a rejected payload MUST NOT affect the next call")
	s.Equal(uint8(50), r.Humidity)
}

func (s *LuaDecoderTestSuite) TestDecodeAfterClose() {
	s.decoder.Close()
	_, err := s.decoder.Decode([]byte{0x0A, 0x01, 0x32})
	s.ErrorIs(err, &sensor.LuaError{Type: "api"})
}

func TestLuaDecoderTestSuite(t *testing.T) {
	suite.Run(t, new(LuaDecoderTestSuite))
}

func TestNewLuaDecoder_Errors(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		wantType string
	}{
		{name: "syntax error", script: "function decode(p) return", wantType: "syntax"},
		{name: "missing decode", script: "function parse(p) return 1, 2 end", wantType: "api"},
		{name: "chunk raises", script: "error('boom')", wantType: "runtime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := sensor.NewLuaDecoder(tt.script)
			assert.Nil(t, d)
			assert.ErrorIs(t, err, &sensor.LuaError{Type: tt.wantType})
		})
	}
}

func TestLuaDecoder_BadReturnValues(t *testing.T) {
	d, err := sensor.NewLuaDecoder(`function decode(p) return "hot", nil end`)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, &sensor.LuaError{Type: "api"})
}

func TestLuaDecoder_CustomScriptSignalsTooShort(t *testing.T) {
	d, err := sensor.NewLuaDecoder(`
function decode(payload)
    if #payload < 5 then
        return payload_too_short(5)
    end
    return 20, 40
end
`)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, sensor.ErrPayloadTooShort)
	assert.Equal(t, &sensor.PayloadError{Len: 3, Need: 5}, err)
}

func TestLuaDecoder_ScriptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fahrenheit.lua")
	script := `
function decode(payload)
    local lo, hi, humid = string.byte(payload, 1, 3)
    return ((lo + hi * 256) / 100.0) * 9 / 5 + 32, humid
end
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o600))

	d, err := sensor.New(sensor.KindLua, path)
	require.NoError(t, err)
	defer d.(*sensor.LuaDecoder).Close()

	r, err := d.Decode([]byte{0xD0, 0x07, 0x28}) // 20.00 degC, 40 %RH
	require.NoError(t, err)
	assert.InDelta(t, 68.0, r.Temperature, 1e-9)
	assert.Equal(t, uint8(40), r.Humidity)
}
