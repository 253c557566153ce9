package host

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/domain/ports"
)

// Instance is one isolated execution context of a module. Invocations on
// an instance are serialized; use a Pool for concurrency.
type Instance struct {
	module *Module
	inst   ports.Instance
	name   string

	// sem holds a token while a guest runs on the instance. It is released
	// by the guest goroutine, not by the trampoline.
	sem    chan struct{}
	closed atomic.Bool
}

func newInstance(m *Module, inst ports.Instance, name string) *Instance {
	return &Instance{module: m, inst: inst, name: name, sem: make(chan struct{}, 1)}
}

// Name returns the unique instance name.
func (i *Instance) Name() string {
	return i.name
}

// Module returns the module the instance was created from.
func (i *Instance) Module() *Module {
	return i.module
}

// Memory returns a bounds-checked view of the instance memory. It must not
// be used while an invocation is running.
func (i *Instance) Memory() ports.Memory {
	return i.inst.Memory()
}

// Alloc reserves size bytes of guest memory for host-provided buffers.
func (i *Instance) Alloc(ctx context.Context, size uint32) (uint32, error) {
	if i.closed.Load() {
		return 0, errors.ErrInstanceClosed
	}
	if err := i.acquire(ctx); err != nil {
		return 0, err
	}
	defer i.release()
	return i.inst.Alloc(ctx, size)
}

// Put copies data into newly allocated guest memory and returns its address.
func (i *Instance) Put(ctx context.Context, data []byte) (uint32, error) {
	addr, err := i.Alloc(ctx, uint32(len(data)))
	if err != nil {
		return 0, fmt.Errorf("put %d bytes: %w", len(data), err)
	}
	if err := i.inst.Memory().Write(addr, data); err != nil {
		return 0, fmt.Errorf("put %d bytes: %w", len(data), err)
	}
	return addr, nil
}

// Close stops a running guest and releases the instance.
func (i *Instance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	i.module.exec.logger.Debug("instance closed", zap.String("instance", i.name))
	return i.inst.Close(ctx)
}

func (i *Instance) acquire(ctx context.Context) error {
	select {
	case i.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Instance) release() {
	<-i.sem
}

// Closed reports whether the instance can no longer run calls. An engine
// may tear an instance down on its own, for example when a call's context
// ends.
func (i *Instance) Closed() bool {
	return i.closed.Load() || i.inst.Closed()
}
