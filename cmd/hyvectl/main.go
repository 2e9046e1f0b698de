// Command hyvectl is a thin client for the bridge socket described in
// SPEC_FULL.md §4.6/§11: no core logic lives here, every subcommand opens a
// connection, issues one or more bridge calls, and prints the result.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/p2p-industries/hyveos-sub001/cmd/hyvectl/families"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hyvectl:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &families.GlobalOptions{}

	cmd := &cobra.Command{
		Use:           "hyvectl",
		Short:         "Talk to the local HyveOS bridge socket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.SocketPath, "socket", defaultSocketPath(), "path to the bridge's unix socket")
	cmd.PersistentFlags().StringVar(&opts.Output, "output", "text", "output format: text or json")

	cmd.AddCommand(
		families.NewWhoamiCommand(opts),
		families.NewInitCommand(opts),
		families.NewKVCommand(opts),
		families.NewPubSubCommand(opts),
		families.NewReqResCommand(opts),
		families.NewDiscoveryCommand(opts),
		families.NewAppsCommand(opts),
		families.NewFileCommand(opts),
		families.NewInspectCommand(opts),
		families.NewGroupsCommand(opts),
	)
	return cmd
}

func defaultSocketPath() string {
	if dir := os.Getenv("HYVEOS_RUNTIME_DIR"); dir != "" {
		return dir + "/bridge.sock"
	}
	return "/run/hyveos/bridge.sock"
}
