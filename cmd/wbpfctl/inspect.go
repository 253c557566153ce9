package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/datenlord/wbpf-userspace/application/extractor"
	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/infrastructure/imagestore"
	"github.com/datenlord/wbpf-userspace/internal/isa"
	"github.com/datenlord/wbpf-userspace/linker"
)

func loadImage(path string) (*entities.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return imagestore.Decode(data)
}

func newDisasmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm IMAGE",
		Short: "Disassemble a linked wBPF image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := loadImage(args[0])
			if err != nil {
				return err
			}
			return linker.Disassemble(cmd.OutOrStdout(), img)
		},
	}
}

// loadCode builds a module from an image JSON or a WebAssembly binary.
func loadCode(path string) (*entities.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if bytes.HasPrefix(data, []byte("\x00asm")) {
		return &entities.Module{Name: name, Engine: entities.EngineWasm, Wasm: data}, nil
	}
	img, err := imagestore.Decode(data)
	if err != nil {
		return nil, err
	}
	return &entities.Module{Name: strings.TrimSuffix(name, ".image"), Engine: entities.EngineBPF, Image: img}, nil
}

func newInspectCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect CODE",
		Short: "List the symbols and host imports of a guest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mod, err := loadCode(args[0])
			if err != nil {
				return err
			}
			reg, err := newRegistry(root.logger, nil)
			if err != nil {
				return err
			}
			imports, err := extractor.NewImportExtractor(extractor.WithTable(reg)).Extract(cmd.Context(), mod)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if mod.Image != nil {
				fmt.Fprintf(out, "%s: %d instruction slots, %d data bytes at %#x\n", mod.Name, len(mod.Image.Code)/isa.SlotSize, len(mod.Image.Data), mod.Image.DataOffset())
				table := tablewriter.NewWriter(out)
				table.Header("Symbol", "Kind", "Offset", "Size")
				for _, row := range symbolRows(mod.Image) {
					if err := table.Append(row); err != nil {
						return err
					}
				}
				if err := table.Render(); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "%s: %d bytes of WebAssembly\n", mod.Name, len(mod.Wasm))
			}

			table := tablewriter.NewWriter(out)
			table.Header("Import", "Sites", "Signature", "Resolved")
			for _, imp := range imports {
				if err := table.Append([]string{imp.Name, strconv.Itoa(imp.Sites), imp.Signature.String(), strconv.FormatBool(imp.Resolved)}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
}

func symbolRows(img *entities.Image) [][]string {
	var rows [][]string
	for _, name := range img.Functions() {
		off, _ := img.Function(name)
		rows = append(rows, []string{name, "func", fmt.Sprintf("%#x", off), ""})
	}
	if img.OffsetTable != nil {
		names := make([]string, 0, len(img.OffsetTable.DataSymbols))
		for name := range img.OffsetTable.DataSymbols {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sym := img.OffsetTable.DataSymbols[name]
			rows = append(rows, []string{name, "data", fmt.Sprintf("%#x", sym.Offset), strconv.Itoa(int(sym.Size))})
		}
	}
	return rows
}
