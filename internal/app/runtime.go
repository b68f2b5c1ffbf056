package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// TestModeEnv disables process startup in cmd binaries when true.
const TestModeEnv = "FIELDSTOCK_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether FIELDSTOCK_TEST_MODE is set. The value is read
// once and cached until RefreshTestMode.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and returns the new value.
func RefreshTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	on = on && err == nil
	testMode.Store(&on)
	return on
}
