package central_test

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/srg/envbridge/internal/central"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteLocalName(t *testing.T) {
	tests := []struct {
		name   string
		adv    []byte
		want   string
		wantOK bool
	}{
		{
			name:   "flags then name",
			adv:    []byte{0x02, 0x01, 0x06, 0x0B, 0x09, 'L', 'Y', 'W', 'S', 'D', '0', '3', 'M', 'M', 'C'},
			want:   "LYWSD03MMC",
			wantOK: true,
		},
		{
			name:   "shortened name is not complete name",
			adv:    []byte{0x04, 0x08, 'L', 'Y', 'W'},
			wantOK: false,
		},
		{
			name:   "zero-length name",
			adv:    []byte{0x01, 0x09},
			want:   "",
			wantOK: true,
		},
		{
			name:   "zero padding after fields",
			adv:    []byte{0x02, 0x01, 0x06, 0x00, 0x00, 0x00},
			wantOK: false,
		},
		{
			name:   "length overruns payload",
			adv:    []byte{0x0B, 0x09, 'L', 'Y'},
			wantOK: false,
		},
		{name: "empty", adv: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := central.CompleteLocalName(tt.adv)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, string(got))
			}
		})
	}
}

func TestScanFilter_Match(t *testing.T) {
	f := central.NewScanFilter("LYWSD03MMC")

	assert.True(t, f.Match([]byte("LYWSD03MMC")))
	assert.False(t, f.Match([]byte("LYWSD03MM")))
	assert.False(t, f.Match([]byte("LYWSD03MMC ")))
	assert.False(t, f.Match(nil))
	assert.Equal(t, "LYWSD03MMC", f.Name())
}

func TestUUIDFilters(t *testing.T) {
	reg, err := central.NewRegistry("LYWSD03MMC", serviceStr, charStr)
	require.NoError(t, err)

	assert.True(t, reg.Service.Match(ble.MustParse("EBE0CCB0-7A0A-4B0C-8A1A-6FF2997DA3A6")), "UUID parsing MUST be case-insensitive")
	assert.False(t, reg.Service.Match(charUUID))
	assert.True(t, reg.Characteristic.Match(charUUID))
	assert.False(t, reg.Characteristic.Match(ble.UUID16(0xCCC1)), "16-bit UUID MUST NOT match a 128-bit target")

	// filters are immutable through their accessors
	u := reg.Service.UUID()
	u[0] ^= 0xFF
	assert.True(t, reg.Service.Match(serviceUUID))
}

func TestNewRegistry_Errors(t *testing.T) {
	_, err := central.NewRegistry("", serviceStr, charStr)
	assert.Error(t, err)

	_, err = central.NewRegistry("LYWSD03MMC", "not-a-uuid", charStr)
	assert.ErrorContains(t, err, "invalid service UUID")

	_, err = central.NewRegistry("LYWSD03MMC", serviceStr, "zz")
	assert.ErrorContains(t, err, "invalid characteristic UUID")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "negotiating_mtu", central.NegotiatingMtu.String())
	assert.Equal(t, "streaming", central.Streaming.String())
	assert.Equal(t, "state(42)", central.State(42).String())
}
