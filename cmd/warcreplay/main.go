// Command warcreplay runs the web-archive replay core: the collection
// catalog, the JSON query API, and the collection control channel.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"warcreplay/internal/logging"
)

var version = "dev"

func main() {
	// All levels pass the base handler; ComponentFilterHandler decides.
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:           "warcreplay",
		Short:         "Web archive replay core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetStringSlice("debug")
			enableDebug(filterHandler, debug)
			return nil
		},
	}

	rootCmd.PersistentFlags().String("home", "", "home directory (default: platform config dir)")
	rootCmd.PersistentFlags().String("catalog-type", "sqlite", "catalog store type: sqlite, json, or memory")
	rootCmd.PersistentFlags().String("rules", "", "JSON file with fuzzy match rules (default: built-in rules)")
	rootCmd.PersistentFlags().StringSlice("debug", nil, "components to log at debug level (e.g. collection,protocol)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table or json")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(
		newServeCmd(logger),
		newListCmd(logger),
		newAddCmd(logger),
		newDeleteCmd(logger),
		newPagesCmd(logger),
		newResolveCmd(logger),
		newCandidatesCmd(),
		versionCmd,
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// enableDebug lowers the named components to debug level.
func enableDebug(filter *logging.ComponentFilterHandler, components []string) {
	for _, component := range components {
		if component = strings.TrimSpace(component); component != "" {
			filter.SetLevel(component, slog.LevelDebug)
		}
	}
}
