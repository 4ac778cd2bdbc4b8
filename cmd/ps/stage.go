package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"projectservice/internal/domain"
	"projectservice/internal/engine"
	"projectservice/internal/filter"
)

func stageCmd() *cobra.Command {
	stage := &cobra.Command{Use: "stage", Short: "Manage stages and staff them by role"}
	stage.AddCommand(stageCreateCmd())
	stage.AddCommand(stageListCmd())
	stage.AddCommand(stageShowCmd())
	stage.AddCommand(stageUpdateCmd())
	stage.AddCommand(stageFulfillCmd())
	stage.AddCommand(stageDeleteCmd())
	return stage
}

func stageCreateCmd() *cobra.Command {
	var name string
	var roles, executors []string
	cmd := &cobra.Command{
		Use:   "create <project-id>",
		Short: "Create a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := parseRoleFlags(roles)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateStage(ctx, engine.CreateStageOptions{
					ProjectID: args[0],
					Name:      name,
					Roles:     reqs,
					Executors: executors,
					ActorID:   viper.GetString("member-id"),
				})
				if err != nil {
					return err
				}
				return printStages([]domain.Stage{s})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "stage name")
	cmd.Flags().StringArrayVar(&roles, "role", nil, "required role as ROLE=COUNT (repeatable, order kept)")
	cmd.Flags().StringSliceVar(&executors, "executor", nil, "executor member id (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func stageListCmd() *cobra.Command {
	var crit filter.StageCriteria
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjectStages(ctx, args[0], crit)
				if err != nil {
					return err
				}
				return printStages(items)
			})
		},
	}
	cmd.Flags().StringVar(&crit.TeamRolePattern, "role", "", "stages requiring this role")
	cmd.Flags().StringVar(&crit.TaskStatusPattern, "task-status", "", "stages with a task in this status")
	return cmd
}

func stageShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <stage-id>",
		Short: "Show a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetStage(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func stageUpdateCmd() *cobra.Command {
	var name string
	var roles []string
	var version int
	cmd := &cobra.Command{
		Use:   "update <stage-id>",
		Short: "Rename a stage or replace its roles, then fulfill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.StageUpdate{ID: args[0], Version: version, ActorID: viper.GetString("member-id")}
			if cmd.Flags().Changed("name") {
				upd.Name = &name
			}
			if cmd.Flags().Changed("role") {
				reqs, err := parseRoleFlags(roles)
				if err != nil {
					return err
				}
				upd.Roles = reqs
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.UpdateStage(ctx, upd)
				if err != nil {
					return err
				}
				return printFulfillment(res)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringArrayVar(&roles, "role", nil, "required role as ROLE=COUNT; replaces all roles")
	cmd.Flags().IntVar(&version, "version", 0, "expected stage version (0 skips the check)")
	return cmd
}

func stageFulfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fulfill <stage-id>",
		Short: "Invite roster members until required roles are covered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.FulfillStageRoles(ctx, args[0], viper.GetString("member-id"))
				if err != nil {
					return err
				}
				return printFulfillment(res)
			})
		},
	}
}

func stageDeleteCmd() *cobra.Command {
	var action, transferTo string
	cmd := &cobra.Command{
		Use:   "delete <stage-id>",
		Short: "Delete a stage (CASCADE, CLOSE or TRANSFER its tasks)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.DeleteStage(ctx, engine.DeleteStageOptions{
					StageID:    args[0],
					Action:     action,
					TransferTo: transferTo,
					ActorID:    viper.GetString("member-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "CASCADE, CLOSE or TRANSFER")
	cmd.Flags().StringVar(&transferTo, "to", "", "target stage for TRANSFER")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func inviteCmd() *cobra.Command {
	inv := &cobra.Command{Use: "invite", Short: "Send and answer stage invitations"}
	inv.AddCommand(&cobra.Command{
		Use:   "send <stage-id> <member-id>",
		Short: "Invite a member to a stage as --member-id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SendInvitation(ctx, engine.SendInvitationOptions{
					StageID:   args[0],
					AuthorID:  viper.GetString("member-id"),
					InvitedID: args[1],
				})
				if err != nil {
					return err
				}
				return printInvitations([]domain.StageInvitation{res})
			})
		},
	})
	inv.AddCommand(inviteListCmd())
	inv.AddCommand(&cobra.Command{
		Use:   "accept <invitation-id>",
		Short: "Accept an invitation as --member-id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AcceptInvitation(ctx, args[0], viper.GetString("member-id"))
				if err != nil {
					return err
				}
				return printInvitations([]domain.StageInvitation{res})
			})
		},
	})
	inv.AddCommand(inviteRejectCmd())
	return inv
}

func inviteListCmd() *cobra.Command {
	var crit filter.InvitationCriteria
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List invitations addressed to --member-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListInvitationsForMember(ctx, viper.GetString("member-id"), crit)
				if err != nil {
					return err
				}
				return printInvitations(items)
			})
		},
	}
	cmd.Flags().StringVar(&crit.Status, "status", "", "PENDING, ACCEPTED or REJECTED")
	cmd.Flags().StringVar(&crit.StageID, "stage", "", "stage filter")
	cmd.Flags().StringVar(&crit.AuthorID, "author", "", "author filter")
	return cmd
}

func inviteRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <invitation-id>",
		Short: "Reject an invitation as --member-id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RejectInvitation(ctx, args[0], viper.GetString("member-id"), reason)
				if err != nil {
					return err
				}
				return printInvitations([]domain.StageInvitation{res})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the invitation is rejected")
	return cmd
}

// parseRoleFlags reads ROLE=COUNT pairs. A bare ROLE means a count of 1.
func parseRoleFlags(values []string) ([]engine.RoleRequirement, error) {
	out := make([]engine.RoleRequirement, 0, len(values))
	for _, v := range values {
		role, count, found := strings.Cut(v, "=")
		n := 1
		if found {
			parsed, err := strconv.Atoi(strings.TrimSpace(count))
			if err != nil {
				return nil, fmt.Errorf("invalid role count in %q", v)
			}
			n = parsed
		}
		out = append(out, engine.RoleRequirement{Role: strings.TrimSpace(role), Count: n})
	}
	return out, nil
}

func printStages(items []domain.Stage) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Roles", "Executors", "Version"})
	for _, s := range items {
		roles := make([]string, 0, len(s.Roles))
		for _, r := range s.Roles {
			roles = append(roles, fmt.Sprintf("%s=%d", r.Role, r.Count))
		}
		tw.AppendRow(table.Row{s.ID, s.Name, strings.Join(roles, ","), strings.Join(s.Executors, ","), s.Version})
	}
	tw.Render()
	return nil
}

func printFulfillment(res engine.FulfillmentResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Stage %s (version %d)", res.Stage.Name, res.Stage.Version)
	tw.AppendHeader(table.Row{"Role", "Required", "Current", "Invited", "Remaining"})
	for _, o := range res.Roles {
		tw.AppendRow(table.Row{o.Role, o.Required, o.Current, o.Invited, o.Remaining})
	}
	tw.Render()
	if len(res.Invitations) > 0 {
		return printInvitations(res.Invitations)
	}
	return nil
}

func printInvitations(items []domain.StageInvitation) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Stage", "Invited", "Role", "Status", "Author", "Reason"})
	for _, inv := range items {
		author := "system"
		if inv.AuthorID != nil {
			author = *inv.AuthorID
		}
		tw.AppendRow(table.Row{inv.ID, inv.StageID, inv.InvitedID, inv.Role, inv.Status, author, inv.Description})
	}
	tw.Render()
	return nil
}
