package host

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/hostfuncs"
	"github.com/datenlord/wbpf-userspace/infrastructure/metrics"
)

// completion is a one-shot future. The guest goroutine and the watchdog
// race to resolve it; only the first outcome is kept.
type completion struct {
	once sync.Once
	done chan struct{}
	exit entities.Exit
	err  error
}

func newCompletion() *completion {
	return &completion{done: make(chan struct{})}
}

// resolve stores the outcome and reports whether this call was the first.
func (c *completion) resolve(exit entities.Exit, err error) bool {
	first := false
	c.once.Do(func() {
		c.exit, c.err = exit, err
		first = true
		close(c.done)
	})
	return first
}

func (c *completion) wait() (entities.Exit, error) {
	<-c.done
	return c.exit, c.err
}

// Invoke runs entry with args and waits for its completion signal. It
// returns exactly one completion on success and none on failure:
//
//   - a guest fault is a *errors.TrapError
//   - a guest still running after Config.Timeout is a *errors.NonTerminationError
//   - a normal return from a noreturn entry, or from any entry under
//     StrictCompletion, is a TrapReturnWithoutCompletion trap
//
// Other normal returns are implicit completions carrying the return value.
func (i *Instance) Invoke(ctx context.Context, entry string, args ...uint64) (*entities.Completion, error) {
	if i.closed.Load() {
		return nil, errors.ErrInstanceClosed
	}
	mod, exec := i.module, i.module.exec
	if !mod.exported(entry) {
		return nil, &errors.ExportNotFoundError{Module: mod.Name(), Name: entry}
	}
	spec, declared := mod.entry(entry)
	if declared {
		if len(args) != len(spec.Params) {
			return nil, fmt.Errorf("invoke %s:%s: takes %d arguments, got %d", mod.Name(), entry, len(spec.Params), len(args))
		}
		normalized := make([]uint64, len(args))
		for n, a := range args {
			normalized[n] = spec.Params[n].Normalize(a)
		}
		args = normalized
	}

	ctx, span := exec.tracer.Start(ctx, "wbpf.invoke", trace.WithAttributes(
		attribute.String("wbpf.module", mod.Name()),
		attribute.String("wbpf.entry", entry),
		attribute.String("wbpf.instance", i.name),
		attribute.String("wbpf.engine", string(mod.Engine())),
	))
	defer span.End()

	start := time.Now()
	c, exit, err := i.trampoline(ctx, entry, spec, args)
	elapsed := time.Since(start)

	outcome := metrics.Outcome(c, err)
	if exec.metrics != nil {
		exec.metrics.ObserveInvocation(mod.Name(), entry, outcome, elapsed, exit.Perf)
	}
	span.SetAttributes(attribute.String("wbpf.outcome", outcome))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		exec.logger.Debug("invocation failed",
			zap.String("module", mod.Name()),
			zap.String("entry", entry),
			zap.String("instance", i.name),
			zap.Error(err),
		)
		return nil, err
	}

	c.Metadata = entities.NewRunMetadata(i.name, mod.Engine(), start, elapsed)
	span.SetAttributes(attribute.Int64("wbpf.result", int64(c.Result)))
	span.SetStatus(codes.Ok, "")
	for _, observe := range exec.observers {
		observe(ctx, c)
	}
	return c, nil
}

func (i *Instance) trampoline(ctx context.Context, entry string, spec entities.EntrySpec, args []uint64) (*entities.Completion, entities.Exit, error) {
	mod, exec := i.module, i.module.exec
	if err := i.acquire(ctx); err != nil {
		return nil, entities.Exit{}, fmt.Errorf("invoke %s:%s: %w", mod.Name(), entry, err)
	}

	runCtx, cancel := context.WithCancel(hostfuncs.WithModuleName(ctx, mod.Name()))
	var watchdog <-chan time.Time
	if exec.cfg.Timeout > 0 {
		timer := time.NewTimer(exec.cfg.Timeout)
		defer timer.Stop()
		watchdog = timer.C
	}

	future := newCompletion()
	go func() {
		defer i.release()
		defer cancel()
		exit, err := i.inst.Call(runCtx, entry, args)
		if !future.resolve(exit, err) && err == nil {
			exec.logger.Warn("late completion discarded",
				zap.String("module", mod.Name()),
				zap.String("entry", entry),
				zap.String("instance", i.name),
			)
			if exec.metrics != nil {
				exec.metrics.DuplicateCompletion(mod.Name(), entry)
			}
		}
	}()

	select {
	case <-future.done:
	case <-watchdog:
		stop := &errors.NonTerminationError{
			Module:   mod.Name(),
			Entry:    entry,
			Duration: exec.cfg.Timeout,
			Err:      context.DeadlineExceeded,
		}
		if future.resolve(entities.Exit{}, stop) {
			exec.logger.Warn("watchdog expired",
				zap.String("module", mod.Name()),
				zap.String("entry", entry),
				zap.Duration("timeout", exec.cfg.Timeout),
			)
			cancel()
		}
	case <-ctx.Done():
		if future.resolve(entities.Exit{}, ctx.Err()) {
			cancel()
		}
	}

	exit, err := future.wait()
	if err != nil {
		var nt *errors.NonTerminationError
		if stdErrors.As(err, &nt) {
			return nil, exit, err
		}
		return nil, exit, fmt.Errorf("invoke %s:%s: %w", mod.Name(), entry, err)
	}

	c := &entities.Completion{
		Module:    mod.Name(),
		Entry:     entry,
		Result:    exit.Result,
		Exception: exit.Exception,
		Perf:      exit.Perf,
	}
	switch exit.Reason {
	case entities.ExitCompleted:
	case entities.ExitReturned:
		if spec.NoReturn || exec.cfg.StrictCompletion {
			return nil, exit, &errors.TrapError{
				Kind:     errors.TrapReturnWithoutCompletion,
				Function: entry,
				PC:       exit.Exception.PC,
				Code:     exit.Exception.Code,
				Err:      fmt.Errorf("returned %#x without calling %s", exit.Result, hostfuncs.CompleteFunc),
			}
		}
		c.Implicit = true
	default:
		return nil, exit, fmt.Errorf("invoke %s:%s: unknown exit reason %q", mod.Name(), entry, exit.Reason)
	}
	return c, exit, nil
}
