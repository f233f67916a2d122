package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerLazilyCreatesBreakers(t *testing.T) {
	m := NewManager(Config{Threshold: 1, Timeout: time.Minute})
	assert.Equal(t, Closed, m.State("10.0.0.1:9000"), "absent backend defaults to closed")
	assert.True(t, m.AllowRequest("10.0.0.1:9000"))
}

func TestManagerIsolatesBackends(t *testing.T) {
	m := NewManager(Config{Threshold: 1, Timeout: time.Minute})
	m.RecordFailure("backend-a")
	assert.Equal(t, Open, m.State("backend-a"))
	assert.Equal(t, Closed, m.State("backend-b"), "backend-b must be unaffected by backend-a's failure")
}

func TestManagerRecordSuccessOnAbsentBackendIsNoop(t *testing.T) {
	m := NewManager(Config{Threshold: 1, Timeout: time.Minute})
	m.RecordSuccess("never-seen")
	assert.Equal(t, Closed, m.State("never-seen"))
}

func TestManagerResetAll(t *testing.T) {
	m := NewManager(Config{Threshold: 1, Timeout: time.Minute})
	m.RecordFailure("backend-a")
	m.RecordFailure("backend-b")
	require.Equal(t, Open, m.State("backend-a"))
	require.Equal(t, Open, m.State("backend-b"))

	m.ResetAll()
	assert.Equal(t, Closed, m.State("backend-a"))
	assert.Equal(t, Closed, m.State("backend-b"))
}
