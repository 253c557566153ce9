package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/ports"
	"github.com/datenlord/wbpf-userspace/infrastructure/devicestore"
)

type dmOptions struct {
	state  string
	offset string
	size   uint32
	path   string
}

func newDeviceStore(path string) ports.DeviceStore {
	if path == "" {
		return devicestore.NewFileStore()
	}
	return devicestore.NewFileStore(devicestore.WithPath(path))
}

func newDMReadCommand() *cobra.Command {
	opts := dmOptions{}
	cmd := &cobra.Command{
		Use:   "dm-read --offset OFF --size N",
		Short: "Read bytes from the saved device data memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := newDeviceStore(opts.state)
			snap, err := store.Load()
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("no device state at %s", store.ConfigPath())
			}
			off, err := parseOffset(opts.offset)
			if err != nil {
				return err
			}
			if uint64(off)+uint64(opts.size) > uint64(len(snap.Memory)) {
				return fmt.Errorf("range %#x+%d exceeds data memory of %d bytes", off, opts.size, len(snap.Memory))
			}
			return writeOutput(cmd, opts.path, snap.Memory[off:off+opts.size])
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.state, "state", "", "Device state file (default $HOME/.wbpf/device.json)")
	flags.StringVar(&opts.offset, "offset", "0", "Start offset")
	flags.Uint32Var(&opts.size, "size", 0, "Number of bytes")
	flags.StringVar(&opts.path, "out", "-", "Output file, - for stdout")
	_ = cmd.MarkFlagRequired("size")
	return cmd
}

func newDMWriteCommand() *cobra.Command {
	opts := dmOptions{}
	cmd := &cobra.Command{
		Use:   "dm-write --offset OFF",
		Short: "Write bytes into the saved device data memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := newDeviceStore(opts.state)
			snap, err := store.Load()
			if err != nil {
				return err
			}
			if snap == nil {
				size := opts.size
				if size == 0 {
					size = entities.DefaultConfig().MemorySize
				}
				snap = &ports.DeviceSnapshot{Memory: make([]byte, size)}
			}
			off, err := parseOffset(opts.offset)
			if err != nil {
				return err
			}
			data, err := readInput(cmd, opts.path)
			if err != nil {
				return err
			}
			if uint64(off)+uint64(len(data)) > uint64(len(snap.Memory)) {
				return fmt.Errorf("range %#x+%d exceeds data memory of %d bytes", off, len(data), len(snap.Memory))
			}
			copy(snap.Memory[off:], data)
			return store.Save(snap)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.state, "state", "", "Device state file (default $HOME/.wbpf/device.json)")
	flags.StringVar(&opts.offset, "offset", "0", "Start offset")
	flags.Uint32Var(&opts.size, "size", 0, "Data memory size when creating new state")
	flags.StringVar(&opts.path, "in", "-", "Input file, - for stdin")
	return cmd
}
