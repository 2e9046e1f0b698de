package families

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func NewPubSubCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pub-sub",
		Aliases: []string{"pubsub"},
		Short:   "Publish to and subscribe from gossipsub topics",
	}
	cmd.AddCommand(newPublishCommand(opts), newPubSubSubscribeCommand(opts))
	return cmd
}

func newPublishCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish TOPIC DATA",
		Short: "Publish a message to a topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			data, err := c.Call("pub_sub.publish", map[string]any{"topic": args[0], "data": []byte(args[1])})
			if err != nil {
				return err
			}
			return printResult(opts, data, func(data json.RawMessage) (string, error) {
				var out struct {
					MessageID string `json:"message_id"`
				}
				if err := json.Unmarshal(data, &out); err != nil {
					return "", err
				}
				return fmt.Sprintf("published: %s", out.MessageID), nil
			})
		},
	}
}

func newPubSubSubscribeCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe TOPIC",
		Short: "Stream messages published to a topic until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()
			c.SetDeadline(0)

			return c.Stream("pub_sub.subscribe", map[string]string{"topic": args[0]}, func(data json.RawMessage) error {
				fmt.Println(string(data))
				return nil
			})
		},
	}
}
