package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSampledLogger_LimitsCategory(t *testing.T) {
	var buf bytes.Buffer
	s := NewSampledLogger(newBufferedAdapter(&buf)).
		WithSampler(CategoryDrift, time.Hour, 2)

	for i := 0; i < 10; i++ {
		s.InfoWithCategory(CategoryDrift, "drift detected", map[string]interface{}{"i": i})
	}

	assert.Equal(t, 2, strings.Count(buf.String(), "drift detected"))

	stats := s.Stats()[CategoryDrift]
	assert.Equal(t, int64(2), stats.Logged)
	assert.Equal(t, int64(8), stats.Suppressed)
}

func TestSampledLogger_UnknownCategoryAlwaysLogs(t *testing.T) {
	var buf bytes.Buffer
	s := NewSampledLogger(newBufferedAdapter(&buf))

	for i := 0; i < 5; i++ {
		s.DebugWithCategory("other", "message", nil)
	}
	assert.Equal(t, 5, strings.Count(buf.String(), "message"))
}

func TestSampledLogger_ReportsSuppressedCount(t *testing.T) {
	var buf bytes.Buffer
	s := NewSampledLogger(newBufferedAdapter(&buf)).
		WithSampler(CategoryBackendCommand, 20*time.Millisecond, 1)

	s.WarnWithCategory(CategoryBackendCommand, "first", nil)
	s.WarnWithCategory(CategoryBackendCommand, "dropped", nil)
	s.WarnWithCategory(CategoryBackendCommand, "dropped", nil)

	time.Sleep(40 * time.Millisecond)
	buf.Reset()
	s.WarnWithCategory(CategoryBackendCommand, "second", nil)

	assert.Contains(t, buf.String(), `"suppressed":2`)
	assert.NotContains(t, buf.String(), "dropped")
}

func TestSampledLogger_ErrorsNeverSampled(t *testing.T) {
	var buf bytes.Buffer
	s := NewSampledLogger(newBufferedAdapter(&buf)).
		WithSampler(CategoryBackendCommand, time.Hour, 0)

	s.ErrorWithCategory(CategoryBackendCommand, "boom", nil)
	s.ErrorWithCategory(CategoryBackendCommand, "boom", nil)
	assert.Equal(t, 2, strings.Count(buf.String(), "boom"))
}
