package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var completionGenerators = map[string]func(root *cobra.Command, w io.Writer) error{
	"bash": func(root *cobra.Command, w io.Writer) error {
		return root.GenBashCompletionV2(w, true)
	},
	"zsh": func(root *cobra.Command, w io.Writer) error {
		return root.GenZshCompletion(w)
	},
	"fish": func(root *cobra.Command, w io.Writer) error {
		return root.GenFishCompletion(w, true)
	},
}

func completionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion <bash|zsh|fish>",
		Short:     "Generate a shell completion script",
		ValidArgs: []string{"bash", "zsh", "fish"},
		Long: `Write a completion script for the named shell to stdout.

Load it for the current session:

  source <(parakeet completion bash)
  parakeet completion fish | source

or install it permanently:

  parakeet completion bash > /etc/bash_completion.d/parakeet
  parakeet completion zsh  > "${fpath[1]}/_parakeet"
  parakeet completion fish > ~/.config/fish/completions/parakeet.fish

Zsh needs compinit enabled; add 'autoload -U compinit && compinit' to
~/.zshrc if completions do not appear.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, ok := completionGenerators[args[0]]
			if !ok {
				return usageError{fmt.Errorf("unsupported shell %q (bash, zsh, or fish)", args[0])}
			}
			return gen(cmd.Root(), cmd.OutOrStdout())
		},
	}
}
