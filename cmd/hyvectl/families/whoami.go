package families

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func NewWhoamiCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print this node's peer id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			data, err := c.Call("whoami", nil)
			if err != nil {
				return err
			}
			return printResult(opts, data, func(data json.RawMessage) (string, error) {
				var out struct {
					PeerID string `json:"peer_id"`
				}
				if err := json.Unmarshal(data, &out); err != nil {
					return "", err
				}
				return fmt.Sprintf("peer id: %s", out.PeerID), nil
			})
		},
	}
}
