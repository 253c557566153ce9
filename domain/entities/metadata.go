package entities

import "time"

// RunMetadata describes where and when an invocation ran.
type RunMetadata struct {
	Instance  string        `json:"instance"`
	Engine    Engine        `json:"engine"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration_ns"`
}

// NewRunMetadata records an invocation on instance that started at start
// and took elapsed.
func NewRunMetadata(instance string, engine Engine, start time.Time, elapsed time.Duration) *RunMetadata {
	return &RunMetadata{Instance: instance, Engine: engine, StartTime: start, Duration: elapsed}
}

// EndTime is the time the completion was observed.
func (m *RunMetadata) EndTime() time.Time {
	return m.StartTime.Add(m.Duration)
}
