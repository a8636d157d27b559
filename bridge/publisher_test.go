package bridge

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/envbridge/internal/sensor"
	"github.com/srg/envbridge/internal/testutils"
	"github.com/stretchr/testify/assert"
)

func TestFormatPayload(t *testing.T) {
	// GOAL: Payload bytes match the layout existing topic subscribers parse
	//
	// TEST SCENARIO: 2.66 degC / 50 %RH → one decimal, space after the comma

	payload := FormatPayload(sensor.Reading{Temperature: 2.66, Humidity: 50})

	assert.Equal(t, `{"temp":2.7, "humid":50}`, string(payload))
	testutils.NewJSONAsserter(t).Assert(string(payload), `{"temp": 2.7, "humid": 50}`)
}

func TestFormatPayload_Extremes(t *testing.T) {
	tests := []struct {
		name     string
		reading  sensor.Reading
		expected string
	}{
		{"zero", sensor.Reading{}, `{"temp":0.0, "humid":0}`},
		{"max raw", sensor.Reading{Temperature: 655.35, Humidity: 255}, `{"temp":655.4, "humid":255}`},
		{"rounds half", sensor.Reading{Temperature: 21.25, Humidity: 99}, `{"temp":21.2, "humid":99}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(FormatPayload(tt.reading)))
		})
	}
}

func TestRenderLabel(t *testing.T) {
	got := RenderLabel("LYWSD03MMC", true, false, sensor.Reading{Temperature: 2.7, Humidity: 50})

	testutils.NewTextAsserter(t).Assert(got,
		"LYWSD03MMC bridge\nNetwork: 1, MQTT: 0\nTemperature: 2.7 degC\nHumidity: 50 %RH\n")
}

func TestLogPublisher(t *testing.T) {
	// GOAL: Dry run reports the link up and logs the exact payload
	//
	// TEST SCENARIO: New → LinkUp|BrokerConnected; Publish → Info entry with payload; Close → broker bit cleared

	helper := testutils.NewTestHelper(t)
	status := NewStatusGroup()

	p := NewLogPublisher("env/sensor", status, helper.Logger)
	assert.Equal(t, LinkUp|BrokerConnected, status.Get())

	assert.NoError(t, p.Publish(sensor.Reading{Temperature: 2.7, Humidity: 50}))
	assert.Equal(t, uint64(1), p.Published())

	entry := helper.Hook.LastEntry()
	if assert.NotNil(t, entry) {
		assert.Equal(t, logrus.InfoLevel, entry.Level)
		assert.Equal(t, "env/sensor", entry.Data["topic"])
		assert.Equal(t, `{"temp":2.7, "humid":50}`, entry.Data["payload"])
	}

	p.Close()
	assert.Equal(t, LinkUp, status.Get())
}

func TestLogPublisher_NilStatus(t *testing.T) {
	p := NewLogPublisher("t", nil, nil)
	assert.NoError(t, p.Publish(sensor.Reading{}))
	assert.NotPanics(t, p.Close)
}
