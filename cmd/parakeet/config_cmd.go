package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/parakeet-labs/parakeet/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit parakeet.json",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Prints the merged configuration: defaults, parakeet.json, and
environment overrides. API keys never appear here.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := printJSON(cfg); err != nil {
				return err
			}
			source := cfg.Source
			if source == "" {
				source = "defaults + env (no parakeet.json)"
			}
			fmt.Fprintf(os.Stderr, "source: %s\n", source)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			root, err := cfg.RequireVault()
			if err != nil {
				return err
			}
			fmt.Println(config.ConfigFilePath(root))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "edit",
		Short: "Open the config file in $EDITOR",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			root, err := cfg.RequireVault()
			if err != nil {
				return err
			}
			path := config.ConfigFilePath(root)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Println("No config file yet, writing defaults first.")
				if err := config.Write(path, config.DefaultConfig()); err != nil {
					return err
				}
			}
			editor := os.Getenv("EDITOR")
			if editor == "" {
				editor = "vi"
			}
			fmt.Printf("Opening %s in %s...\n", path, editor)
			return runEditor(editor, path)
		},
	})

	return cmd
}

func runEditor(editor, path string) error {
	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
