package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/hostfuncs"
	"github.com/datenlord/wbpf-userspace/infrastructure/parser"
	"github.com/datenlord/wbpf-userspace/internal/logging"
)

type rootOptions struct {
	logLevel  string
	logFormat string
	logger    *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{logger: zap.NewNop()}
	cmd := &cobra.Command{
		Use:           "wbpfctl",
		Short:         "Run and inspect wbpf guest modules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			l, err := logging.New(opts.logLevel, logging.WithFormat(logging.Format(opts.logFormat)))
			if err != nil {
				return err
			}
			opts.logger = l
			logging.Install(l)
			return nil
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", string(logging.FormatConsole), "Log format (console, json)")

	cmd.AddCommand(
		newRunCommand(opts),
		newDMReadCommand(),
		newDMWriteCommand(),
		newDisasmCommand(),
		newInspectCommand(opts),
		newBuildGuestsCommand(opts),
		newSchemaCommand(),
	)
	return cmd
}

// newRegistry builds the standard host function table. named entries are
// NAME=VALUE pairs served by callByName.
func newRegistry(logger *zap.Logger, named []string) (*hostfuncs.Registry, error) {
	var opts []hostfuncs.NamedOption
	for _, kv := range named {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("named value %q: want NAME=VALUE", kv)
		}
		v, err := strconv.ParseInt(raw, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("named value %q: %w", kv, err)
		}
		opts = append(opts, hostfuncs.WithNamedValue(name, v))
	}
	return hostfuncs.NewRegistry(
		hostfuncs.WithMiddleware(
			hostfuncs.PanicRecoveryMiddleware(),
			hostfuncs.LoggingMiddleware(logger.Named("hostfuncs")),
		),
		hostfuncs.WithBundle(hostfuncs.StandardBundle(logger, opts...)),
	)
}

func loadConfig(path string) (entities.Config, error) {
	if path == "" {
		return entities.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return entities.Config{}, fmt.Errorf("read config: %w", err)
	}
	return parser.NewYamlConfigParser().Parse(data)
}

// parseUint accepts decimal, 0x-prefixed and negative integers. Negative
// values are taken as two's complement.
func parseUint(s string) (uint64, error) {
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint64(v), nil
}

func parseOffset(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	return uint32(v), nil
}

// readInput reads path, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// writeOutput writes data to path, or stdout for "-".
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
