package testutils

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook
}

// NewTestHelper creates a test helper whose logger records entries instead of printing them.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// Logged reports whether an entry at level contains msg.
func (h *TestHelper) Logged(level logrus.Level, msg string) bool {
	for _, e := range h.Hook.AllEntries() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return true
		}
	}
	return false
}

// CreateMockAdvertisement builds a report for name at address.
func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}

// CreateMockAdvertisementFromJSON builds a report from a JSON description.
func CreateMockAdvertisementFromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	return NewAdvertisementBuilder().FromJSON(jsonStrFmt, args...)
}
