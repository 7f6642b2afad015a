package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordSuccessSetsHealthy(t *testing.T) {
	h := New()
	h.RecordSuccess()
	assert.Equal(t, string(StatusHealthy), h.Snapshot().Status)
}

func TestRecordFailureTransitionsToUnhealthyAtThreshold(t *testing.T) {
	h := New()
	var transitioned bool
	for i := 0; i < DefaultUnhealthyThreshold; i++ {
		transitioned = h.RecordFailure()
	}
	assert.True(t, transitioned)
	assert.Equal(t, string(StatusUnhealthy), h.Snapshot().Status)
}

func TestRecordFailureDoesNotRetransitionOnceUnhealthy(t *testing.T) {
	h := New()
	for i := 0; i < DefaultUnhealthyThreshold; i++ {
		h.RecordFailure()
	}
	again := h.RecordFailure()
	assert.False(t, again)
}

func TestRecordLatencyMarksDegradedAbovePercentileThreshold(t *testing.T) {
	h := New()
	h.RecordSuccess()
	for i := 0; i < 3; i++ {
		h.RecordLatency(10 * time.Second)
	}
	assert.Equal(t, string(StatusDegraded), h.Snapshot().Status)
}

func TestRecordSuccessResetsConsecutiveFailures(t *testing.T) {
	h := New()
	h.RecordFailure()
	h.RecordFailure()
	h.RecordSuccess()
	assert.Zero(t, h.Snapshot().ConsecutiveFailures)
}
