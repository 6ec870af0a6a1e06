package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the effective configuration and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.cfg.Validate(); err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			out, err := yaml.Marshal(g.cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "# config ok")
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.AddCommand(check)
	return cmd
}
