package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vango-dev/ghostwatch/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// errorFormat is bound to --error-format on the root command.
var errorFormat = "text"

func main() {
	if err := rootCmd().Execute(); err != nil {
		style, perr := errors.ParseStyle(errorFormat)
		if perr != nil {
			style = errors.StyleText
		}
		errors.Print(os.Stderr, err, style)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ghostwatch",
		Short: "Dictionary compression for HTTP responses and WebSocket streams",
		Long: `GhostWatch compresses HTTP responses and WebSocket streams with a shared
zstd dictionary.

Real-time messages are batched per channel and sent as one compressed
frame. The dictionary can be replaced while clients stay connected:
they are told about the new version, fetch it, and keep decoding.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&errorFormat, "error-format", "text", "Error output: text, compact or json")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if _, err := errors.ParseStyle(errorFormat); err != nil {
			return errors.New("E141").Wrap(err).
				WithSuggestion("Use --error-format text, compact or json")
		}
		return nil
	}

	root.AddCommand(
		serveCmd(),
		clientCmd(),
		swapCmd(),
		benchCmd(),
		initCmd(),
		versionCmd(),
	)

	return root
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}
