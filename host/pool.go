package host

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
)

// Call is one entry invocation submitted to a Pool.
type Call struct {
	Entry string
	Args  []uint64
}

// Result is the outcome of one Call.
type Result struct {
	Completion *entities.Completion
	Instance   string
	Err        error
}

// Pool runs calls concurrently on a fixed set of isolated instances of one
// module. Each call has exclusive use of its instance while it runs.
type Pool struct {
	module *Module
	size   int
	idle   chan *Instance
	done   chan struct{}

	// mu orders returns to idle against Close draining it.
	mu     sync.Mutex
	closed bool
}

// NewPool creates size instances of the module.
func (m *Module) NewPool(ctx context.Context, size int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool %s: size must be positive, got %d", m.Name(), size)
	}
	p := &Pool{module: m, size: size, idle: make(chan *Instance, size), done: make(chan struct{})}
	for n := 0; n < size; n++ {
		inst, err := m.NewInstance(ctx)
		if err != nil {
			_ = p.Close(ctx)
			return nil, err
		}
		p.idle <- inst
	}
	return p, nil
}

// Size returns the number of instances.
func (p *Pool) Size() int {
	return p.size
}

// Do runs fn with exclusive use of an idle instance.
func (p *Pool) Do(ctx context.Context, fn func(*Instance) error) error {
	var inst *Instance
	select {
	case inst = <-p.idle:
	case <-p.done:
		return errors.ErrInstanceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	err := fn(inst)
	p.put(ctx, inst, err)
	return err
}

// put returns inst to the pool, replacing it first when it is retired.
func (p *Pool) put(ctx context.Context, inst *Instance, err error) {
	ctx = context.WithoutCancel(ctx)
	if retired(inst, err) {
		inst = p.replace(ctx, inst)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = inst.Close(ctx)
		return
	}
	p.idle <- inst
}

// retired reports whether inst must not serve another call. A guest
// abandoned by the watchdog or stopped with its caller's context may still
// be unwinding, and wazero closes a module whose call context ended.
func retired(inst *Instance, err error) bool {
	var nt *errors.NonTerminationError
	return stdErrors.As(err, &nt) ||
		stdErrors.Is(err, context.Canceled) ||
		stdErrors.Is(err, context.DeadlineExceeded) ||
		stdErrors.Is(err, errors.ErrInterrupted) ||
		inst.Closed()
}

// replace closes inst and returns a new instance. When none can be created
// the closed instance is kept so the pool stays at full size; it reports
// ErrInstanceClosed and is replaced again on its next return.
func (p *Pool) replace(ctx context.Context, inst *Instance) *Instance {
	_ = inst.Close(ctx)
	fresh, err := p.module.NewInstance(ctx)
	if err != nil {
		p.module.exec.logger.Error("pool instance lost",
			zap.String("module", p.module.Name()),
			zap.String("instance", inst.Name()),
			zap.Error(err),
		)
		return inst
	}
	return fresh
}

// Run executes calls concurrently, at most Size at a time, and returns
// their results in call order. The error is the first failed call's error.
func (p *Pool) Run(ctx context.Context, calls []Call) ([]Result, error) {
	results := make([]Result, len(calls))
	var g errgroup.Group
	g.SetLimit(p.size)
	for n, call := range calls {
		g.Go(func() error {
			err := p.Do(ctx, func(inst *Instance) error {
				c, err := inst.Invoke(ctx, call.Entry, call.Args...)
				results[n] = Result{Completion: c, Instance: inst.Name(), Err: err}
				return err
			})
			if err != nil && results[n].Err == nil {
				results[n].Err = err
			}
			return err
		})
	}
	return results, g.Wait()
}

// Close closes every idle instance. Calls still running keep their
// instance and close it when they return.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)

	var errs []error
	for {
		select {
		case inst := <-p.idle:
			if err := inst.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		default:
			return stdErrors.Join(errs...)
		}
	}
}
