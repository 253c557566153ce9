package metrics

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
)

func TestCollector_Register(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := NewCollector()
	require.NoError(t, reg.Register(c))

	c.ObserveInvocation("muldiv", "mul_div_u", OutcomeCompleted, time.Millisecond, entities.PerfCounters{Cycles: 40, Commits: 12})
	c.ObserveHostCall("wbpf_host_complete", 0, errors.ErrGuestHalted)

	expected := `
# HELP wbpf_guest_instructions_total Guest instructions retired.
# TYPE wbpf_guest_instructions_total counter
wbpf_guest_instructions_total{module="muldiv"} 12
# HELP wbpf_host_calls_total Host function calls made by guests.
# TYPE wbpf_host_calls_total counter
wbpf_host_calls_total{function="wbpf_host_complete",outcome="halted"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"wbpf_guest_instructions_total", "wbpf_host_calls_total"))
}

func TestCollector_ObserveInvocation(t *testing.T) {
	c := NewCollector(WithNamespace("test"))
	c.ObserveInvocation("aes", "do_encrypt", OutcomeCompleted, time.Millisecond, entities.PerfCounters{})
	c.ObserveInvocation("aes", "do_encrypt", OutcomeCompleted, time.Millisecond, entities.PerfCounters{})
	c.ObserveInvocation("aes", "do_encrypt", OutcomeTrap, time.Millisecond, entities.PerfCounters{})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.invocations.WithLabelValues("aes", "do_encrypt", OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocations.WithLabelValues("aes", "do_encrypt", OutcomeTrap)))
	assert.Equal(t, 1, testutil.CollectAndCount(c.duration))
	assert.Equal(t, 0, testutil.CollectAndCount(c.cycles), "zero perf counters are not recorded")
}

func TestCollector_HostCallsAndDuplicates(t *testing.T) {
	c := NewCollector()
	c.ObserveHostCall("extAdd", 0, nil)
	c.ObserveHostCall("callByName", 0, fmt.Errorf("boom"))
	c.DuplicateCompletion("muldiv", "mul_div_u")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.hostCalls.WithLabelValues("extAdd", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.hostCalls.WithLabelValues("callByName", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.duplicates.WithLabelValues("muldiv", "mul_div_u")))
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name       string
		completion *entities.Completion
		err        error
		want       string
	}{
		{"completed", &entities.Completion{}, nil, OutcomeCompleted},
		{"implicit", &entities.Completion{Implicit: true}, nil, OutcomeImplicit},
		{"timeout", nil, fmt.Errorf("invoke: %w", &errors.NonTerminationError{}), OutcomeTimeout},
		{"trap", nil, &errors.TrapError{Kind: errors.TrapDivisionByZero}, OutcomeTrap},
		{"other", nil, errors.ErrInstanceClosed, OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.completion, tt.err))
		})
	}
}
