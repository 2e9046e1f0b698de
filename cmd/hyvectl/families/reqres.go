package families

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func NewReqResCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "req-res",
		Aliases: []string{"reqres"},
		Short:   "Send and answer request/response calls to peers",
	}
	cmd.AddCommand(
		newReqResSendCommand(opts),
		newReqResRespondCommand(opts),
		newReqResSubscribeCommand(opts),
	)
	return cmd
}

func newReqResSendCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send PEER TOPIC DATA",
		Short: "Send a request to a peer and print its response",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			data, err := c.Call("req_res.send_request", map[string]any{
				"peer": args[0], "topic": args[1], "data": []byte(args[2]),
			})
			if err != nil {
				return err
			}
			return printResult(opts, data, func(data json.RawMessage) (string, error) {
				var out struct {
					Data []byte `json:"data"`
				}
				if err := json.Unmarshal(data, &out); err != nil {
					return "", err
				}
				return string(out.Data), nil
			})
		},
	}
}

func newReqResRespondCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "respond REQUEST_ID DATA",
		Short: "Answer a request seen via 'req-res subscribe'",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			requestID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("hyvectl: invalid request id %q: %w", args[0], err)
			}
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			_, err = c.Call("req_res.send_response", map[string]any{"request_id": requestID, "data": []byte(args[1])})
			return err
		},
	}
}

func newReqResSubscribeCommand(opts *GlobalOptions) *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Stream incoming requests until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()
			c.SetDeadline(0)

			return c.Stream("req_res.subscribe", map[string]string{"topic": topic}, func(data json.RawMessage) error {
				fmt.Println(string(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "only stream requests addressed to this topic")
	return cmd
}
