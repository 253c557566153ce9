package main

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/datenlord/wbpf-userspace/application/template"
	"github.com/datenlord/wbpf-userspace/application/validation"
	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/domain/ports"
	"github.com/datenlord/wbpf-userspace/host"
	"github.com/datenlord/wbpf-userspace/infrastructure/devicestore"
	"github.com/datenlord/wbpf-userspace/infrastructure/metrics"
)

type runOptions struct {
	manifest string
	code     string
	entry    string
	config   string
	state    string
	timeout  time.Duration
	args     []string
	dmWrites []string
	dmReads  []string
	vars     []string
	named    []string
	metrics  bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run --manifest FILE --code FILE --entry NAME [--arg N]...",
		Short: "Invoke a guest entry and print its completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, root, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.manifest, "manifest", "", "Guest manifest (YAML)")
	flags.StringVar(&opts.code, "code", "", "Guest code: image JSON or WebAssembly binary")
	flags.StringVar(&opts.entry, "entry", "", "Entry to invoke")
	flags.StringVar(&opts.config, "config", "", "Runtime config (YAML)")
	flags.StringVar(&opts.state, "state", "", "Save the resulting device state to FILE")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Override the watchdog timeout")
	flags.StringArrayVar(&opts.args, "arg", nil, "Entry argument (repeatable)")
	flags.StringArrayVar(&opts.dmWrites, "dm-write", nil, "Write FILE to guest memory before the call: OFF=FILE")
	flags.StringArrayVar(&opts.dmReads, "dm-read", nil, "Dump guest memory after the call: OFF:SIZE=FILE")
	flags.StringArrayVar(&opts.vars, "var", nil, "Manifest template variable: KEY=VALUE")
	flags.StringArrayVar(&opts.named, "named", nil, "callByName value: NAME=VALUE")
	flags.BoolVar(&opts.metrics, "metrics", false, "Print metrics in Prometheus text format after the call")
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("entry")
	return cmd
}

type dmRead struct {
	offset, size uint32
	path         string
}

func parseDMRead(s string) (dmRead, error) {
	spec, path, ok := strings.Cut(s, "=")
	if !ok || path == "" {
		return dmRead{}, fmt.Errorf("dm-read %q: want OFF:SIZE=FILE", s)
	}
	off, size, ok := strings.Cut(spec, ":")
	if !ok {
		return dmRead{}, fmt.Errorf("dm-read %q: want OFF:SIZE=FILE", s)
	}
	o, err := parseOffset(off)
	if err != nil {
		return dmRead{}, err
	}
	n, err := parseOffset(size)
	if err != nil {
		return dmRead{}, err
	}
	return dmRead{offset: o, size: n, path: path}, nil
}

func parseVars(kvs []string) (map[string]any, error) {
	vars := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("var %q: want KEY=VALUE", kv)
		}
		vars[k] = v
	}
	return vars, nil
}

func runRun(cmd *cobra.Command, root *rootOptions, opts runOptions) error {
	ctx := cmd.Context()

	args := make([]uint64, len(opts.args))
	for i, a := range opts.args {
		v, err := parseUint(a)
		if err != nil {
			return fmt.Errorf("arg %d: %w", i, err)
		}
		args[i] = v
	}
	reads := make([]dmRead, len(opts.dmReads))
	for i, s := range opts.dmReads {
		r, err := parseDMRead(s)
		if err != nil {
			return err
		}
		reads[i] = r
	}
	vars, err := parseVars(opts.vars)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts.config)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	reg, err := newRegistry(root.logger, opts.named)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	exec, err := host.NewExecutor(ctx,
		host.WithConfig(cfg),
		host.WithLogger(root.logger),
		host.WithHostFunctions(reg),
		host.WithMetrics(collector),
	)
	if err != nil {
		return err
	}
	defer exec.Close(context.WithoutCancel(ctx))

	loader := host.NewLoader(
		host.WithRegistry(reg),
		host.WithDocumentValidator(validation.NewDocumentValidator()),
		host.WithTemplateEngine(template.NewGoTemplateEngine(), vars),
	)
	mod, err := loader.LoadFiles(opts.manifest, opts.code)
	if err != nil {
		return err
	}
	m, err := exec.Load(ctx, mod)
	if err != nil {
		return err
	}
	inst, err := m.NewInstance(ctx)
	if err != nil {
		return err
	}
	defer inst.Close(context.WithoutCancel(ctx))

	for _, w := range opts.dmWrites {
		off, path, ok := strings.Cut(w, "=")
		if !ok || path == "" {
			return fmt.Errorf("dm-write %q: want OFF=FILE", w)
		}
		o, err := parseOffset(off)
		if err != nil {
			return err
		}
		data, err := readInput(cmd, path)
		if err != nil {
			return fmt.Errorf("dm-write %q: %w", w, err)
		}
		if err := inst.Memory().Write(o, data); err != nil {
			return fmt.Errorf("dm-write %q: %w", w, err)
		}
	}

	c, invokeErr := inst.Invoke(ctx, opts.entry, args...)
	if opts.state != "" {
		if err := saveState(opts.state, inst.Memory(), c, invokeErr); err != nil {
			return err
		}
	}
	if invokeErr != nil {
		return invokeErr
	}

	for _, r := range reads {
		data, err := inst.Memory().Read(r.offset, r.size)
		if err != nil {
			return fmt.Errorf("dm-read %#x:%d: %w", r.offset, r.size, err)
		}
		if err := writeOutput(cmd, r.path, data); err != nil {
			return err
		}
	}

	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(out)); err != nil {
		return err
	}
	if opts.metrics {
		return writeMetrics(cmd, collector)
	}
	return nil
}

// saveState persists guest memory with the exception state of the call.
// A failed call records the trap code when one is known.
func saveState(path string, mem ports.Memory, c *entities.Completion, invokeErr error) error {
	data, err := mem.Read(0, mem.Size())
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	snap := &ports.DeviceSnapshot{Memory: data}
	switch {
	case c != nil:
		snap.Exceptions = []entities.ExceptionState{c.Exception}
		snap.Perf = []entities.PerfCounters{c.Perf}
	case invokeErr != nil:
		var trap *errors.TrapError
		if stdErrors.As(invokeErr, &trap) {
			snap.Exceptions = []entities.ExceptionState{{PC: trap.PC, Code: trap.Code}}
		}
	}
	return devicestore.NewFileStore(devicestore.WithPath(path)).Save(snap)
}

func writeMetrics(cmd *cobra.Command, collector *metrics.Collector) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collector); err != nil {
		return err
	}
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(cmd.OutOrStdout(), expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
