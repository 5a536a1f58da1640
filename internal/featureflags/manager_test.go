package featureflags

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	for _, name := range []string{"a", "c", "e"} {
		assert.True(t, m.Enabled(name, "ann@example.com"), name)
	}
	for _, name := range []string{"b", "d", "f", "missing"} {
		assert.False(t, m.Enabled(name, "ann@example.com"), name)
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,broken=x%")

	assert.True(t, m.Enabled("always", "ann@example.com"))
	assert.False(t, m.Enabled("never", "ann@example.com"))
	assert.False(t, m.Enabled("broken", "ann@example.com"))

	first := m.Enabled("canary", "ann@example.com")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.Enabled("canary", "ann@example.com"), "rollout must be deterministic per subject")
	}
	assert.Equal(t, first, m.Enabled("CANARY", " Ann@Example.com "), "names and subjects are normalized")

	assert.False(t, m.Enabled("canary", ""), "percentage rollout requires a subject")
}

func TestEnabled_RolloutSpreadsSubjects(t *testing.T) {
	m := NewManager("half=50%")

	on := 0
	for i := 0; i < 200; i++ {
		if m.Enabled("half", fmt.Sprintf("user%d@example.com", i)) {
			on++
		}
	}
	assert.Greater(t, on, 50)
	assert.Less(t, on, 150)
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.Enabled("anything", "ann@example.com"))
	assert.Empty(t, m.Raw())
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,x=on, y = 20% ,z=off ")

	raw := m.Raw()
	assert.Len(t, raw, 3)
	assert.Equal(t, map[string]string{"x": "on", "y": "20%", "z": "off"}, raw)

	snap := m.Snapshot("ann@example.com")
	assert.Len(t, snap, 3)
	assert.True(t, snap["x"])
	assert.False(t, snap["z"])
}
