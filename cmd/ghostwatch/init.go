package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vango-dev/ghostwatch/internal/config"
	"github.com/vango-dev/ghostwatch/internal/errors"
)

func initCmd() *cobra.Command {
	var (
		dir   string
		toml  bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write ghostwatch.json (or ghostwatch.toml with --toml) holding the
default settings, ready to edit.

Examples:
  ghostwatch init
  ghostwatch init --toml --dir /etc/ghostwatch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := config.JSONFileName
			if toml {
				name = config.TOMLFileName
			}
			if config.Exists(dir) && !force {
				return errors.New("E141").
					WithDetail("A configuration file already exists in " + dir).
					WithSuggestion("Pass --force to overwrite it")
			}

			path := filepath.Join(dir, name)
			if err := config.New().SaveTo(path); err != nil {
				return err
			}
			success("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory to write the file to")
	cmd.Flags().BoolVar(&toml, "toml", false, "Write TOML instead of JSON")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}
