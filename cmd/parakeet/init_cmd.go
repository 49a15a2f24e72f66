package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/parakeet-labs/parakeet/internal/cli"
	"github.com/parakeet-labs/parakeet/internal/config"
	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Scaffold a PARA vault",
		Long: `Creates the five PARA folders (00-Inbox through 04-Archive), the
.parakeet state directory, and a default parakeet.json in the given
directory (default: current directory). Existing folders and config
are left alone, so init is safe to re-run.`,
		Args: maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) == 1 {
				target = args[0]
			}
			return runInit(target)
		},
	}
}

func runInit(target string) error {
	root, err := config.ValidateVaultPath(target)
	if err != nil {
		return err
	}

	cli.Banner(Version)

	var created, kept []string
	scaffold := []string{
		vault.FolderInbox,
		vault.FolderProjects,
		vault.FolderAreas,
		vault.FolderResources,
		vault.FolderArchive,
		config.AppDirName,
	}
	for _, name := range scaffold {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err == nil {
			kept = append(kept, name)
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fault.Wrapf(fault.KindPrecondition, err, "create %s", name)
		}
		created = append(created, name)
	}

	cfgPath := config.ConfigFilePath(root)
	if _, err := os.Stat(cfgPath); err == nil {
		kept = append(kept, config.ConfigFileName)
	} else {
		if err := config.Write(cfgPath, config.DefaultConfig()); err != nil {
			return err
		}
		created = append(created, config.ConfigFileName)
	}

	fmt.Printf("  Vault: %s%s%s\n\n", cli.Bold, cli.ShortenHome(root), cli.Reset)
	for _, name := range created {
		fmt.Printf("  %s created %s\n", cli.Mark(true), name)
	}
	for _, name := range kept {
		fmt.Printf("  %s kept    %s\n", cli.Mark(true), name)
	}

	fmt.Println()
	if len(created) == 0 {
		fmt.Println("  Already initialized — nothing to do.")
	} else {
		fmt.Println("  Drop notes into 00-Inbox, then run 'parakeet plan'.")
	}
	cli.Footer()
	return nil
}
