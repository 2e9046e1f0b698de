package families

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func NewAppsCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Deploy, list, and stop containerized workloads",
	}
	cmd.AddCommand(
		newAppsDeployCommand(opts),
		newAppsListCommand(opts),
		newAppsStopCommand(opts),
	)
	return cmd
}

func newAppsDeployCommand(opts *GlobalOptions) *cobra.Command {
	var name string
	var ports []int
	var persistent bool
	var selfOnly bool

	cmd := &cobra.Command{
		Use:   "deploy IMAGE",
		Short: "Deploy a container image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			method := "apps.deploy_image"
			if selfOnly {
				method = "apps.self_deploy_image"
			}
			data, err := c.Call(method, map[string]any{
				"image": args[0], "name": name, "ports": ports, "persistent": persistent,
			})
			if err != nil {
				return err
			}
			return printResult(opts, data, func(data json.RawMessage) (string, error) {
				var out struct {
					ULID  string `json:"ulid"`
					Image string `json:"image"`
				}
				if err := json.Unmarshal(data, &out); err != nil {
					return "", err
				}
				return fmt.Sprintf("%s\t%s", out.ULID, out.Image), nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "container name")
	cmd.Flags().IntSliceVar(&ports, "port", nil, "container port to expose (repeatable)")
	cmd.Flags().BoolVar(&persistent, "persistent", false, "redeploy this app automatically on restart")
	cmd.Flags().BoolVar(&selfOnly, "self", false, "use self_deploy_image instead of deploy_image")
	return cmd
}

func newAppsListCommand(opts *GlobalOptions) *cobra.Command {
	var peer string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List managed containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			data, err := c.Call("apps.list_containers", struct {
				Peer string `json:"peer,omitempty"`
			}{Peer: peer})
			if err != nil {
				return err
			}
			return printResult(opts, data, func(data json.RawMessage) (string, error) {
				var out []struct {
					ULID  string `json:"ulid"`
					Image string `json:"image"`
					Name  string `json:"name"`
				}
				if err := json.Unmarshal(data, &out); err != nil {
					return "", err
				}
				s := ""
				for _, a := range out {
					s += fmt.Sprintf("%s\t%s\t%s\n", a.ULID, a.Image, a.Name)
				}
				return s, nil
			})
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "list containers on a remote peer instead of this node")
	return cmd
}

func newAppsStopCommand(opts *GlobalOptions) *cobra.Command {
	var peer string
	cmd := &cobra.Command{
		Use:   "stop ULID",
		Short: "Stop and remove a managed container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			_, err = c.Call("apps.stop_container", struct {
				ULID string `json:"ulid"`
				Peer string `json:"peer,omitempty"`
			}{ULID: args[0], Peer: peer})
			return err
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "stop a container on a remote peer instead of this node")
	return cmd
}
