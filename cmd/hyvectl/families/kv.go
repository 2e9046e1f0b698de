package families

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func NewKVCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Read and write the node's local key-value store",
	}
	cmd.AddCommand(newKVGetCommand(opts), newKVPutCommand(opts), newKVDeleteCommand(opts))
	return cmd
}

func newKVGetCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Fetch a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			data, err := c.Call("kv.get", map[string]string{"key": args[0]})
			if err != nil {
				return err
			}
			return printResult(opts, data, func(data json.RawMessage) (string, error) {
				var out struct {
					Value []byte `json:"value"`
				}
				if err := json.Unmarshal(data, &out); err != nil {
					return "", err
				}
				return string(out.Value), nil
			})
		},
	}
}

func newKVPutCommand(opts *GlobalOptions) *cobra.Command {
	var valueB64 string
	cmd := &cobra.Command{
		Use:   "put KEY VALUE",
		Short: "Write a value by key",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value []byte
			switch {
			case valueB64 != "":
				decoded, err := base64.StdEncoding.DecodeString(valueB64)
				if err != nil {
					return fmt.Errorf("hyvectl: decode --value-base64: %w", err)
				}
				value = decoded
			case len(args) == 2:
				value = []byte(args[1])
			default:
				return fmt.Errorf("hyvectl: provide a value argument or --value-base64")
			}

			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			_, err = c.Call("kv.put", map[string]any{"key": args[0], "value": value})
			return err
		},
	}
	cmd.Flags().StringVar(&valueB64, "value-base64", "", "value to write, base64-encoded (for binary data)")
	return cmd
}

func newKVDeleteCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			_, err = c.Call("kv.delete", map[string]string{"key": args[0]})
			return err
		},
	}
}
