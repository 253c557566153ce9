package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/ports"
	"github.com/datenlord/wbpf-userspace/guests"
	"github.com/datenlord/wbpf-userspace/host"
	"github.com/datenlord/wbpf-userspace/infrastructure/imagestore"
)

type buildOptions struct {
	out        string
	engines    []string
	dataOffset uint32
	named      []string
}

func newBuildGuestsCommand(root *rootOptions) *cobra.Command {
	opts := buildOptions{}
	cmd := &cobra.Command{
		Use:   "build-guests --out DIR",
		Short: "Write the built-in guests with their manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuildGuests(cmd, root, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.out, "out", ".", "Output directory")
	flags.StringSliceVar(&opts.engines, "engine", []string{string(entities.EngineBPF), string(entities.EngineWasm)}, "Engines to build for")
	flags.Uint32Var(&opts.dataOffset, "data-offset", host.DefaultDataOffset, "Data memory offset of linked images")
	flags.StringArrayVar(&opts.named, "named", nil, "callByName value: NAME=VALUE")
	return cmd
}

func runBuildGuests(cmd *cobra.Command, root *rootOptions, opts buildOptions) error {
	reg, err := newRegistry(root.logger, opts.named)
	if err != nil {
		return err
	}
	platform := reg.Platform(opts.dataOffset)
	images := imagestore.NewFileStore(imagestore.WithDir(opts.out))
	if err := os.MkdirAll(opts.out, 0o755); err != nil {
		return err
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Guest", "Engine", "Manifest", "Code")
	for _, g := range guests.All() {
		for _, e := range opts.engines {
			engine := entities.Engine(e)
			manifest, code, err := buildGuest(g, engine, platform, images, opts.out)
			if err != nil {
				return err
			}
			if err := table.Append([]string{g.Name, e, manifest, code}); err != nil {
				return err
			}
		}
	}
	return table.Render()
}

func buildGuest(g *guests.Guest, engine entities.Engine, platform *entities.HostPlatform, images ports.ImageStore, dir string) (string, string, error) {
	var code string
	switch engine {
	case entities.EngineBPF:
		img, err := g.Link(platform)
		if err != nil {
			return "", "", fmt.Errorf("link %s: %w", g.Name, err)
		}
		if err := images.Save(g.Name, img); err != nil {
			return "", "", err
		}
		code = g.Name + ".image.json"
	case entities.EngineWasm:
		bin, err := g.Wasm()
		if err != nil {
			return "", "", err
		}
		code = g.Name + ".wasm"
		if err := os.WriteFile(filepath.Join(dir, code), bin, 0o644); err != nil {
			return "", "", err
		}
	default:
		return "", "", fmt.Errorf("unknown engine %q", engine)
	}

	data, err := yaml.Marshal(g.Manifest(engine))
	if err != nil {
		return "", "", err
	}
	manifest := fmt.Sprintf("%s.%s.yaml", g.Name, engine)
	if err := os.WriteFile(filepath.Join(dir, manifest), data, 0o644); err != nil {
		return "", "", err
	}
	return manifest, code, nil
}
