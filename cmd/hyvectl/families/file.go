package families

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func NewFileCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Publish and fetch content-addressed files over the mesh",
	}
	cmd.AddCommand(newFilePublishCommand(opts), newFileGetCommand(opts))
	return cmd
}

func newFilePublishCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish PATH",
		Short: "Import a file under /shared/data into the content store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			data, err := c.Call("file.publish", map[string]string{"path": args[0]})
			if err != nil {
				return err
			}
			return printResult(opts, data, func(data json.RawMessage) (string, error) {
				var out struct {
					Cid string `json:"cid"`
				}
				if err := json.Unmarshal(data, &out); err != nil {
					return "", err
				}
				return out.Cid, nil
			})
		},
	}
}

func newFileGetCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get CID",
		Short: "Fetch a previously published file into /shared/data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ulidPart, hashHex, ok := strings.Cut(args[0], "-")
			if !ok {
				return fmt.Errorf("hyvectl: malformed cid %q, expected <ulid>-<hex-hash>", args[0])
			}
			hash, err := hex.DecodeString(hashHex)
			if err != nil {
				return fmt.Errorf("hyvectl: malformed cid hash in %q: %w", args[0], err)
			}

			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			data, err := c.Call("file.get", map[string]any{"ulid": ulidPart, "hash": hash})
			if err != nil {
				return err
			}
			return printResult(opts, data, func(data json.RawMessage) (string, error) {
				var out struct {
					Path string `json:"path"`
				}
				if err := json.Unmarshal(data, &out); err != nil {
					return "", err
				}
				return out.Path, nil
			})
		},
	}
}
