package families

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"
)

func NewGroupsCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Create named peer groups and manage invitations",
	}
	cmd.AddCommand(
		newGroupsCreateCommand(opts),
		newGroupsInviteCommand(opts),
		newGroupsRespondCommand(opts),
		newGroupsMembersCommand(opts),
		newGroupsPendingCommand(opts),
	)
	return cmd
}

func newGroupsCreateCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME",
		Short: "Start a new group led by this node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			data, err := c.Call("groups.create", map[string]string{"name": args[0]})
			if err != nil {
				return err
			}
			return printResult(opts, data, func(data json.RawMessage) (string, error) {
				var out struct {
					GroupID string `json:"group_id"`
				}
				if err := json.Unmarshal(data, &out); err != nil {
					return "", err
				}
				return out.GroupID, nil
			})
		},
	}
}

func newGroupsInviteCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "invite GROUP_ID PEER_ID",
		Short: "Invite a peer into a group this node leads",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			_, err = c.Call("groups.invite", map[string]string{"group_id": args[0], "peer": args[1]})
			return err
		},
	}
}

func newGroupsRespondCommand(opts *GlobalOptions) *cobra.Command {
	var decline bool
	cmd := &cobra.Command{
		Use:   "respond INVITATION_ID",
		Short: "Accept or decline a pending invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			_, err = c.Call("groups.respond", map[string]any{
				"invitation_id": args[0], "accepted": !decline,
			})
			return err
		},
	}
	cmd.Flags().BoolVar(&decline, "decline", false, "decline the invitation instead of accepting it")
	return cmd
}

func newGroupsMembersCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "members GROUP_ID",
		Short: "List a group's current members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			data, err := c.Call("groups.members", map[string]string{"group_id": args[0]})
			if err != nil {
				return err
			}
			return printResult(opts, data, func(data json.RawMessage) (string, error) {
				var out struct {
					Members []string `json:"members"`
				}
				if err := json.Unmarshal(data, &out); err != nil {
					return "", err
				}
				return strings.Join(out.Members, "\n"), nil
			})
		},
	}
}

func newGroupsPendingCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending-invitations",
		Short: "List invitations received but not yet responded to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()

			data, err := c.Call("groups.pending_invitations", struct{}{})
			if err != nil {
				return err
			}
			return printResult(opts, data, func(data json.RawMessage) (string, error) {
				var out struct {
					InvitationIds []string `json:"invitation_ids"`
				}
				if err := json.Unmarshal(data, &out); err != nil {
					return "", err
				}
				return strings.Join(out.InvitationIds, "\n"), nil
			})
		},
	}
}
