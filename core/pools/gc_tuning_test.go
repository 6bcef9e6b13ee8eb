package pools

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyGCConfig(t *testing.T) {
	prev := ApplyGCConfig(GCConfig{Percent: 250, MemoryLimit: 1 << 40})
	defer ApplyGCConfig(prev)

	assert.Equal(t, 250, debug.SetGCPercent(-1))
	debug.SetGCPercent(250)
	assert.Equal(t, int64(1<<40), debug.SetMemoryLimit(-1))

	// zero fields leave the settings alone
	assert.Equal(t, GCConfig{}, ApplyGCConfig(GCConfig{}))
	assert.Equal(t, 250, debug.SetGCPercent(-1))
	debug.SetGCPercent(250)
}
