package families

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func NewDiscoveryCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discovery",
		Short: "Put/get DHT records and advertise/discover content providers",
	}
	cmd.AddCommand(
		newPutRecordCommand(opts),
		newGetRecordCommand(opts),
		newRemoveRecordCommand(opts),
		newStartProvidingCommand(opts),
		newStopProvidingCommand(opts),
		newGetProvidersCommand(opts),
		newBootstrapCommand(opts),
	)
	return cmd
}

func newRemoveRecordCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-record TOPIC KEY",
		Short: "Tombstone a value previously stored under a topic-scoped key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()
			_, err = c.Call("discovery.remove_record", map[string]any{"topic": args[0], "key": []byte(args[1])})
			return err
		},
	}
}

func newBootstrapCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap [PEER_MULTIADDR...]",
		Short: "Re-run DHT bootstrap, optionally dialing extra peer multiaddrs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()
			_, err = c.Call("discovery.bootstrap", map[string]any{"peers": args})
			return err
		},
	}
}

func newPutRecordCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put-record TOPIC KEY VALUE",
		Short: "Store a value under a topic-scoped key in the DHT",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()
			_, err = c.Call("discovery.put_record", map[string]any{
				"topic": args[0], "key": []byte(args[1]), "value": []byte(args[2]),
			})
			return err
		},
	}
}

func newGetRecordCommand(opts *GlobalOptions) *cobra.Command {
	var quorum string
	cmd := &cobra.Command{
		Use:   "get-record TOPIC KEY",
		Short: "Read every value stored under a topic-scoped key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()
			c.SetDeadline(0)

			return c.Stream("discovery.get_record", map[string]any{
				"topic": args[0], "key": []byte(args[1]), "quorum": quorum,
			}, func(data json.RawMessage) error {
				if len(data) == 0 {
					return nil
				}
				var out struct {
					Value []byte `json:"value"`
				}
				if err := json.Unmarshal(data, &out); err != nil {
					return err
				}
				fmt.Println(string(out.Value))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&quorum, "quorum", "one", "one, majority, or all")
	return cmd
}

func newStartProvidingCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start-providing TOPIC KEY",
		Short: "Advertise this node as a provider for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()
			_, err = c.Call("discovery.start_providing", map[string]any{"topic": args[0], "key": []byte(args[1])})
			return err
		},
	}
}

func newStopProvidingCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-providing TOPIC KEY",
		Short: "Stop advertising this node as a provider for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()
			_, err = c.Call("discovery.stop_providing", map[string]any{"topic": args[0], "key": []byte(args[1])})
			return err
		},
	}
}

func newGetProvidersCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get-providers TOPIC KEY",
		Short: "List peers currently advertising as providers for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()
			c.SetDeadline(0)

			return c.Stream("discovery.get_providers", map[string]any{"topic": args[0], "key": []byte(args[1])}, func(data json.RawMessage) error {
				if len(data) == 0 {
					return nil
				}
				fmt.Println(string(data))
				return nil
			})
		},
	}
}
