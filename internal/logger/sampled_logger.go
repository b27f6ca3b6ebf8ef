package logger

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Log categories emitted on hot paths.
const (
	CategoryDrift          = "drift"
	CategoryBackendCommand = "backend_command"
	CategoryBackendEvent   = "backend_event"
)

// SampledLogger rate-limits log output per category so loops running at
// tick frequency can log freely without flooding the output.
type SampledLogger struct {
	base Logger

	mu       sync.Mutex
	samplers map[string]*sampler
}

type sampler struct {
	limiter    *rate.Limiter
	suppressed int64
	logged     int64
}

// SamplerStats holds statistics for a log category
type SamplerStats struct {
	Name       string `json:"name"`
	Logged     int64  `json:"logged"`
	Suppressed int64  `json:"suppressed"`
}

// NewSampledLogger creates a new sampled logger
func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		base:     base,
		samplers: make(map[string]*sampler),
	}
}

// WithSampler allows burst messages for category and then at most one
// message per every interval.
func (s *SampledLogger) WithSampler(category string, every time.Duration, burst int) *SampledLogger {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samplers[category] = &sampler{
		limiter: rate.NewLimiter(rate.Every(every), burst),
	}
	return s
}

// Base returns the unsampled logger.
func (s *SampledLogger) Base() Logger {
	return s.base
}

// allow reports whether a message in category may be written now, and how
// many messages were suppressed since the last one that was.
func (s *SampledLogger) allow(category string) (bool, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm, ok := s.samplers[category]
	if !ok {
		return true, 0
	}
	if !sm.limiter.Allow() {
		sm.suppressed++
		return false, 0
	}
	suppressed := sm.suppressed
	sm.suppressed = 0
	sm.logged++
	return true, suppressed
}

// LogWithCategory writes msg at level if the category's budget allows it.
func (s *SampledLogger) LogWithCategory(level logrus.Level, category, msg string, fields map[string]interface{}) {
	ok, suppressed := s.allow(category)
	if !ok {
		return
	}

	f := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		f[k] = v
	}
	f["category"] = category
	if suppressed > 0 {
		f["suppressed"] = suppressed
	}
	s.base.WithFields(f).Log(level, msg)
}

func (s *SampledLogger) DebugWithCategory(category, msg string, fields map[string]interface{}) {
	s.LogWithCategory(logrus.DebugLevel, category, msg, fields)
}

func (s *SampledLogger) InfoWithCategory(category, msg string, fields map[string]interface{}) {
	s.LogWithCategory(logrus.InfoLevel, category, msg, fields)
}

func (s *SampledLogger) WarnWithCategory(category, msg string, fields map[string]interface{}) {
	s.LogWithCategory(logrus.WarnLevel, category, msg, fields)
}

// ErrorWithCategory is never sampled.
func (s *SampledLogger) ErrorWithCategory(category, msg string, fields map[string]interface{}) {
	f := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		f[k] = v
	}
	f["category"] = category
	s.base.WithFields(f).Error(msg)
}

// Stats returns per-category counters.
func (s *SampledLogger) Stats() map[string]SamplerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]SamplerStats, len(s.samplers))
	for name, sm := range s.samplers {
		stats[name] = SamplerStats{
			Name:       name,
			Logged:     sm.logged,
			Suppressed: sm.suppressed,
		}
	}
	return stats
}
