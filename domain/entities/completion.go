package entities

import "time"

// ExitReason tells how an engine call ended without a fault.
type ExitReason string

const (
	// ExitCompleted means the guest called the completion primitive.
	ExitCompleted ExitReason = "completed"

	// ExitReturned means the entry function returned normally.
	ExitReturned ExitReason = "returned"
)

// Exit is the raw outcome of running an entry on an engine instance.
type Exit struct {
	Reason    ExitReason     `json:"reason"`
	Result    uint64         `json:"result"`
	Exception ExceptionState `json:"exception"`
	Perf      PerfCounters   `json:"perf"`
}

// Completion is the host-visible signal produced exactly once by every
// successful invocation.
type Completion struct {
	Module string `json:"module"`
	Entry  string `json:"entry"`

	// Result is the entry's return value for implicit completions, zero when
	// the guest called the completion primitive.
	Result uint64 `json:"result"`

	// Implicit is set when the entry returned normally and the host treated
	// the return as completion.
	Implicit bool `json:"implicit,omitempty"`

	Exception ExceptionState `json:"exception"`
	Perf      PerfCounters   `json:"perf"`
	Metadata  *RunMetadata   `json:"metadata,omitempty"`
}

// Int32 interprets the result as a signed 32-bit value.
func (c *Completion) Int32() int32 {
	return int32(uint32(c.Result))
}

// Int64 interprets the result as a signed 64-bit value.
func (c *Completion) Int64() int64 {
	return int64(c.Result)
}

// Duration is the wall time of the invocation.
func (c *Completion) Duration() time.Duration {
	if c.Metadata == nil {
		return 0
	}
	return c.Metadata.Duration
}
