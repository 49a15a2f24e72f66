// Command parakeet organizes a PARA markdown vault: notes land in the
// inbox, plans propose where they belong, apply moves them with a
// snapshot to fall back on.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/parakeet-labs/parakeet/internal/cli"
	"github.com/parakeet-labs/parakeet/internal/config"
	"github.com/parakeet-labs/parakeet/internal/engine"
	"github.com/parakeet-labs/parakeet/internal/fault"
)

// Version is stamped by the release build via ldflags.
var Version = "dev"

// Exit codes. Scripts branch on these, so the mapping is part of the
// interface: misuse, failed precondition, partial execution, fatal, and
// the conventional 130 for interrupts.
const (
	exitMisuse       = 2
	exitPrecondition = 3
	exitPartial      = 4
	exitFatal        = 5
	exitInterrupted  = 130
)

var verboseFlag bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err)
		stop()
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "parakeet",
		Short: "PARA vault organizer",
		Long: `Parakeet keeps a PARA markdown vault tidy. Notes land in 00-Inbox,
each one is classified against Projects, Areas, Resources, and Archive,
and moves are planned first, snapshotted, and reversible.

Start with 'parakeet init' inside your vault, then 'parakeet plan'.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	root.PersistentFlags().StringVar(&config.VaultOverride, "vault", "", "vault path (overrides discovery)")
	root.PersistentFlags().StringVar(&config.ConfigOverride, "config", "", "config file (overrides discovery)")
	root.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "debug logging")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	root.AddCommand(
		initCmd(),
		planCmd(),
		applyCmd(),
		reindexCmd(),
		feedbackCmd(),
		statusCmd(),
		doctorCmd(),
		snapshotCmd(),
		exclusionsCmd(),
		learningCmd(),
		watchCmd(),
		mcpCmd(),
		configCmd(),
		completionCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the parakeet version",
		Args:  exactArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("parakeet %s\n", Version)
		},
	}
}

// usageError marks an error as caller misuse (bad flag, wrong arguments)
// so exitCode can separate it from runtime failures.
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

// exactArgs and maxArgs mirror cobra's validators but return usage-kind
// errors so bad invocations exit 2 instead of 5.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{fmt.Errorf("%s takes %d argument(s), got %d", cmd.CommandPath(), n, len(args))}
		}
		return nil
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return usageError{fmt.Errorf("%s takes at most %d argument(s), got %d", cmd.CommandPath(), n, len(args))}
		}
		return nil
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var usage usageError
	if errors.As(err, &usage) || strings.Contains(err.Error(), "unknown command") {
		return exitMisuse
	}
	switch fault.KindOf(err) {
	case fault.KindCancelled:
		return exitInterrupted
	case fault.KindPrecondition:
		return exitPrecondition
	case fault.KindPartial:
		return exitPartial
	default:
		return exitFatal
	}
}

func printError(w io.Writer, err error) {
	if fault.KindOf(err) == fault.KindCancelled {
		fmt.Fprintln(w, "Interrupted.")
		return
	}
	fmt.Fprintf(w, "%sError:%s %v\n", cli.Red, cli.Reset, err)
	if hint := fault.HintOf(err); hint != "" {
		fmt.Fprintf(w, "  %s%s%s\n", cli.Dim, hint, cli.Reset)
	}
	var usage usageError
	if errors.As(err, &usage) {
		fmt.Fprintf(w, "  %srun 'parakeet --help' for usage%s\n", cli.Dim, cli.Reset)
	}
}

// newLogger builds the CLI logger: warnings only unless --verbose, always
// on stderr so stdout stays parseable.
func newLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verboseFlag {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// openSession loads config and builds the full pipeline. The caller must
// Close the session. Config warnings surface here so every verb shows
// them once.
func openSession(cmd *cobra.Command) (*engine.Session, *zap.Logger, error) {
	log := newLogger()
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	for _, w := range cfg.Warnings {
		fmt.Fprintf(os.Stderr, "%s %s\n", cli.WarnMark(), w)
	}
	sess, err := engine.NewSession(cmd.Context(), engine.Options{Config: cfg, Log: log})
	if err != nil {
		return nil, nil, err
	}
	return sess, log, nil
}

// confirm prompts on stdout and reads one line from stdin. Anything but
// y/yes declines.
func confirm(prompt string) bool {
	return confirmFrom(os.Stdin, os.Stdout, prompt)
}

func confirmFrom(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fault.Wrap(fault.KindData, err, "encode output")
	}
	fmt.Println(string(out))
	return nil
}

// relToRoot shortens an absolute vault path for display. Paths outside
// the root come back unchanged.
func relToRoot(root, path string) string {
	if root == "" || path == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
