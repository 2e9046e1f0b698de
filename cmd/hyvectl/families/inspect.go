package families

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewInspectCommand streams the daemon's reference-counted debug fan-out
// (topology and message events) for one logical topic.
func NewInspectCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "inspect TOPIC",
		Aliases: []string{"debug"},
		Short:   "Stream topology/message debug events until interrupted",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()
			c.SetDeadline(0)

			return c.Stream("inspect.subscribe", map[string]string{"topic": args[0]}, func(data json.RawMessage) error {
				fmt.Println(string(data))
				return nil
			})
		},
	}
}
