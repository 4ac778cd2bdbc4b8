package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"projectservice/internal/app"
	"projectservice/internal/config"
	"projectservice/internal/db"
	"projectservice/internal/domain"
	"projectservice/internal/engine"
	"projectservice/internal/filter"
	"projectservice/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ps",
	Short: "Project service CLI",
	Long: `ps manages projects, teams and stages and staffs stages by role.
- Project: owns teams, stages and tasks. Deleting a project only marks it DELETED.
- Team: a group of members; every member of every team forms the project roster.
- Stage: a step of work with required roles (DESIGNER=2, TESTER=1) and executors.
- Fulfillment: invites roster members holding a missing role, in roster order.
- Invitation: PENDING until the invited member accepts or rejects it with a reason.
- Stage delete: CASCADE detaches tasks, CLOSE cancels them, TRANSFER moves them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("member-id", "", "acting team member id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("member-id", rootCmd.PersistentFlags().Lookup("member-id"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(inviteCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.CreateProjectOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{p})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner user id")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent project id")
	cmd.Flags().StringVar(&opts.Visibility, "visibility", "", "PUBLIC or PRIVATE (default from config)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func projectListCmd() *cobra.Command {
	var viewer string
	var crit filter.ProjectCriteria
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects visible to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, viewer, crit)
				if err != nil {
					return err
				}
				return printProjects(items)
			})
		},
	}
	cmd.Flags().StringVar(&viewer, "viewer", "", "viewing user id (PRIVATE projects need a seat)")
	cmd.Flags().StringVar(&crit.NamePattern, "name", "", "name fragment")
	cmd.Flags().StringVar(&crit.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&crit.Visibility, "visibility", "", "visibility filter")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var name, description, status, visibility string
	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.UpdateProjectOptions{ID: args[0], ActorID: viper.GetString("member-id")}
				if cmd.Flags().Changed("name") {
					opts.Name = &name
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				if cmd.Flags().Changed("visibility") {
					opts.Visibility = &visibility
				}
				p, err := e.UpdateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{p})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&status, "status", "", "CREATED, IN_PROGRESS, COMPLETED, ON_HOLD or CANCELLED")
	cmd.Flags().StringVar(&visibility, "visibility", "", "PUBLIC or PRIVATE")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Mark a project DELETED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.DeleteProject(ctx, args[0], viper.GetString("member-id"))
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{p})
			})
		},
	}
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{Use: "team", Short: "Manage teams and the project roster"}
	team.AddCommand(&cobra.Command{
		Use:   "create <project-id>",
		Short: "Create a team in a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTeam(ctx, args[0], viper.GetString("member-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	})
	team.AddCommand(teamAddMemberCmd())
	team.AddCommand(teamMembersCmd())
	return team
}

func teamAddMemberCmd() *cobra.Command {
	var opts engine.AddTeamMemberOptions
	cmd := &cobra.Command{
		Use:   "add-member <team-id>",
		Short: "Seat a user in a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TeamID = args[0]
			opts.ActorID = viper.GetString("member-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddTeamMember(ctx, opts)
				if err != nil {
					return err
				}
				return printMembers([]domain.TeamMember{m})
			})
		},
	}
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id")
	cmd.Flags().StringSliceVar(&opts.Roles, "role", nil, "team role (repeatable)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func teamMembersCmd() *cobra.Command {
	var crit filter.MemberCriteria
	cmd := &cobra.Command{
		Use:   "members <project-id>",
		Short: "List the project roster in roster order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjectMembers(ctx, args[0], crit)
				if err != nil {
					return err
				}
				return printMembers(items)
			})
		},
	}
	cmd.Flags().StringVar(&crit.RolePattern, "role", "", "role filter")
	cmd.Flags().StringVar(&crit.UserID, "user", "", "user filter")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskStatusCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.CreateTaskOptions
	cmd := &cobra.Command{
		Use:   "create <project-id>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ProjectID = args[0]
			opts.ActorID = viper.GetString("member-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "task name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.StageID, "stage", "", "stage id")
	cmd.Flags().StringVar(&opts.PerformerID, "performer", "", "performer user id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func taskListCmd() *cobra.Command {
	var crit filter.TaskCriteria
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTasks(ctx, args[0], crit)
				if err != nil {
					return err
				}
				return printTasks(items)
			})
		},
	}
	cmd.Flags().StringVar(&crit.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&crit.StageID, "stage", "", "stage filter")
	cmd.Flags().StringVar(&crit.PerformerID, "performer", "", "performer filter")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Change task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTaskStatus(ctx, args[0], args[1], viper.GetString("member-id"), force)
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip transition checks")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage the workspace config",
		Long:  "The workspace config (projectservice.yml) holds the staffing policy, project defaults, the Redis event bus and logging.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default projectservice.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate projectservice.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func logCmd() *cobra.Command {
	var n int
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	tail := &cobra.Command{
		Use:   "tail [project-id]",
		Short: "Show the latest events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := ""
			if len(args) == 1 {
				projectID = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx, projectID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	lg.AddCommand(tail)
	return lg
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <member-id>",
		Short: "Issue a bearer token for a team member (uses PS_JWT_SECRET)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.IssueToken(viper.GetString("jwt-secret"), args[0])
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Open(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer rt.Close()
			authCfg := server.AuthConfig{
				JWTSecret:               viper.GetString("jwt-secret"),
				AllowLegacyMemberHeader: legacyHeader,
				Logger:                  log.StandardLogger(),
			}
			if authCfg.JWTSecret == "" && !legacyHeader {
				return fmt.Errorf("PS_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.WithFields(log.Fields{"addr": addr, "base_path": basePath}).Info("serving project service API")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&legacyHeader, "allow-member-header", false, "accept X-Member-Id without a token (local use)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	rt, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine)
}

func printProjects(items []domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Status", "Visibility", "Owner"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.Visibility, p.OwnerID})
	}
	tw.Render()
	return nil
}

func printMembers(items []domain.TeamMember) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "User", "Team", "Roles"})
	for _, m := range items {
		roles := make([]string, 0, len(m.Roles))
		for _, r := range m.Roles {
			roles = append(roles, string(r))
		}
		tw.AppendRow(table.Row{m.ID, m.UserID, m.TeamID, strings.Join(roles, ",")})
	}
	tw.Render()
	return nil
}

func printTasks(items []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Status", "Stage", "Performer"})
	for _, t := range items {
		tw.AppendRow(table.Row{t.ID, t.Name, t.Status, stringOrEmpty(t.StageID), stringOrEmpty(t.PerformerID)})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stringOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
