package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/datenlord/wbpf-userspace/application/schema"
)

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "schema " + strings.Join(schema.Documents(), "|"),
		Short:     "Print the JSON Schema of a document type",
		Args:      cobra.ExactArgs(1),
		ValidArgs: schema.Documents(),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Lookup(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
