package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressPrinter_StopPhaseClearsLine(t *testing.T) {
	// GOAL: Reaching a stop phase ends the display and leaves a clean line
	//
	// TEST SCENARIO: Start → initial phase printed; callback "Running" → line cleared; Stop again → no output

	out := &bytes.Buffer{}
	p := NewProgressPrinter(out, "Starting bridge for LYWSD03MMC", "Starting", "Running", "Failed")

	p.Start()
	p.Callback()("Running")

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "\rStarting bridge for LYWSD03MMC (Starting...)"), "got %q", text)
	assert.True(t, strings.HasSuffix(text, clearLineSequence))

	p.Stop()
	assert.Equal(t, text, out.String(), "second Stop MUST NOT write")
}

func TestProgressPrinter_StartTwicePanics(t *testing.T) {
	p := NewProgressPrinter(&bytes.Buffer{}, "x", "Starting")
	p.Start()
	defer p.Stop()

	assert.Panics(t, p.Start)
}
