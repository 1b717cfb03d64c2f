package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missioncontrol/internal/app"
	"missioncontrol/internal/audit"
	"missioncontrol/internal/chair"
	"missioncontrol/internal/config"
	"missioncontrol/internal/domain"
	"missioncontrol/internal/engine"
	"missioncontrol/internal/gateway"
	"missioncontrol/internal/repo"
	"missioncontrol/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "mc",
	Short: "Mission Control CLI",
	Long: `Mission Control coordinates a roster of AI agents around a shared task board.
Core concepts:
- Workspace: a directory holding .missioncontrol/ (the SQLite database) and missioncontrol.yml.
- Agents: roster entries with a role, skills allowlist and execution policy. Only allowlisted skills can run.
- Tasks: board cards in BACKLOG, READY, DOING, BLOCKED, REVIEW or DONE, optionally owned by an agent.
- Conversations: append-only transcripts, one per task plus one per war-room run.
- War room: the chair asks every enabled agent for status, records each reply, writes one summary and posts it to the configured chat.
- Audit log: every change with its actor, view with 'mc audit tail'.`,
	SilenceUsage: true,
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
	viper.SetEnvPrefix("MISSIONCONTROL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("gateway-url", "", "agent gateway URL (overrides config)")
	rootCmd.PersistentFlags().String("chat-id", "", "delivery chat id (overrides config)")
	rootCmd.PersistentFlags().String("topic-id", "", "delivery topic id (overrides config)")
	for _, name := range []string{"workspace", "json", "actor-id", "gateway-url", "chat-id", "topic-id"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	// Secrets come from the environment only.
	_ = viper.BindEnv("gateway-token")
	_ = viper.BindEnv("jwt-secret")
}

func registerCommands() {
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(conversationCmd())
	rootCmd.AddCommand(meetingCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- agents ---

func agentCmd() *cobra.Command {
	agent := &cobra.Command{
		Use:   "agent",
		Short: "Manage the agent roster",
		Long:  "Agents are listed in roster order (sort order, then creation). Disabled agents stay on the roster but skip war-room runs.",
	}
	agent.AddCommand(agentListCmd())
	agent.AddCommand(agentShowCmd())
	agent.AddCommand(agentCreateCmd())
	agent.AddCommand(agentUpdateCmd())
	agent.AddCommand(agentEnableCmd(true))
	agent.AddCommand(agentEnableCmd(false))
	return agent
}

func agentListCmd() *cobra.Command {
	var f repo.AgentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				agents, err := e.ListAgents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Enabled", "Skills", "Version"})
				for _, a := range agents {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Role, a.Enabled, strings.Join(a.SkillsAllow, ","), a.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&f.EnabledOnly, "enabled-only", false, "only enabled agents")
	cmd.Flags().StringVar(&f.Role, "role", "", "role filter")
	return cmd
}

func agentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func agentCreateCmd() *cobra.Command {
	var opts engine.AgentCreateOptions
	var policyJSON, constraintsJSON string
	var required []string
	var disabled bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Actor = cliActor()
			if disabled {
				enabled := false
				opts.Enabled = &enabled
			}
			if policyJSON != "" {
				if err := json.Unmarshal([]byte(policyJSON), &opts.ExecutionPolicy); err != nil {
					return fmt.Errorf("--execution-policy-json: %w", err)
				}
			}
			opts.ConstraintsJSON = constraintsJSON
			if cmd.Flags().Changed("required-field") {
				opts.OutputContract = &domain.OutputContract{RequiredFields: required}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAgent(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "agent id (generated if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Role, "role", "", "role")
	cmd.Flags().StringVar(&opts.SoulMD, "soul", "", "persona markdown")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model hint")
	cmd.Flags().StringVar(&opts.CapabilityHandle, "session-key", "", "gateway session key used to reach the agent")
	cmd.Flags().IntVar(&opts.SortOrder, "sort-order", 0, "roster position")
	cmd.Flags().StringArrayVar(&opts.SkillsAllow, "skill", []string{}, "allowlisted skill (repeatable)")
	cmd.Flags().StringVar(&policyJSON, "execution-policy-json", "", `execution policy, e.g. {"default":"propose"}`)
	cmd.Flags().StringVar(&constraintsJSON, "constraints-json", "", "free-form constraints JSON object")
	cmd.Flags().StringArrayVar(&required, "required-field", []string{}, "required report field (repeatable)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create disabled")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func agentUpdateCmd() *cobra.Command {
	var name, role, soul, model, handle, policyJSON, constraintsJSON string
	var sortOrder int
	var skills, required []string
	var expected int64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			opts := engine.AgentUpdateOptions{ID: args[0], Actor: cliActor()}
			if flags.Changed("expected-version") {
				opts.ExpectedVersion = &expected
			}
			if flags.Changed("name") {
				opts.Name = &name
			}
			if flags.Changed("role") {
				opts.Role = &role
			}
			if flags.Changed("soul") {
				opts.SoulMD = &soul
			}
			if flags.Changed("model") {
				opts.Model = &model
			}
			if flags.Changed("session-key") {
				opts.CapabilityHandle = &handle
			}
			if flags.Changed("sort-order") {
				opts.SortOrder = &sortOrder
			}
			if flags.Changed("skill") {
				opts.SkillsAllow = &skills
			}
			if flags.Changed("execution-policy-json") {
				var p domain.ExecutionPolicy
				if err := json.Unmarshal([]byte(policyJSON), &p); err != nil {
					return fmt.Errorf("--execution-policy-json: %w", err)
				}
				opts.ExecutionPolicy = &p
			}
			if flags.Changed("constraints-json") {
				opts.ConstraintsJSON = &constraintsJSON
			}
			if flags.Changed("required-field") {
				opts.OutputContract = &domain.OutputContract{RequiredFields: required}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.UpdateAgent(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail unless the agent is at this version")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "role")
	cmd.Flags().StringVar(&soul, "soul", "", "persona markdown")
	cmd.Flags().StringVar(&model, "model", "", "model hint (empty clears)")
	cmd.Flags().StringVar(&handle, "session-key", "", "gateway session key (empty clears)")
	cmd.Flags().IntVar(&sortOrder, "sort-order", 0, "roster position")
	cmd.Flags().StringArrayVar(&skills, "skill", []string{}, "replace the skills allowlist (repeatable)")
	cmd.Flags().StringVar(&policyJSON, "execution-policy-json", "", "execution policy JSON")
	cmd.Flags().StringVar(&constraintsJSON, "constraints-json", "", "constraints JSON object")
	cmd.Flags().StringArrayVar(&required, "required-field", []string{}, "replace required report fields (repeatable)")
	return cmd
}

func agentEnableCmd(enabled bool) *cobra.Command {
	use, short := "enable <id>", "Enable an agent for war-room runs"
	if !enabled {
		use, short = "disable <id>", "Disable an agent; it keeps its roster slot"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SetAgentEnabled(ctx, args[0], enabled, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

// --- tasks ---

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage board tasks",
		Long:  "Tasks sit in one of six columns. Any column may move to any column; pass --expected-version to refuse stale edits.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(boardCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var status string
	var sortOrder int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Actor = cliActor()
			opts.Status = domain.TaskStatus(strings.ToUpper(status))
			if cmd.Flags().Changed("sort-order") {
				opts.SortOrder = &sortOrder
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "initial column (default BACKLOG)")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "priority (higher first)")
	cmd.Flags().IntVar(&sortOrder, "sort-order", 0, "explicit position in its column")
	cmd.Flags().StringVar(&opts.OwnerAgentID, "owner", "", "owner agent id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.TaskStatus(strings.ToUpper(status))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Owner", "Version"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, derefString(t.OwnerAgentID), t.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.OwnerAgentID, "owner", "", "owner filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status, owner string
	var priority, sortOrder int
	var clearSort bool
	var expected int64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update or move a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			opts := engine.TaskUpdateOptions{ID: args[0], ClearSortOrder: clearSort, Actor: cliActor()}
			if flags.Changed("expected-version") {
				opts.ExpectedVersion = &expected
			}
			if flags.Changed("title") {
				opts.Title = &title
			}
			if flags.Changed("description") {
				opts.Description = &description
			}
			if flags.Changed("status") {
				s := domain.TaskStatus(strings.ToUpper(status))
				opts.Status = &s
			}
			if flags.Changed("priority") {
				opts.Priority = &priority
			}
			if flags.Changed("sort-order") {
				opts.SortOrder = &sortOrder
			}
			if flags.Changed("owner") {
				opts.OwnerAgentID = &owner
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail unless the task is at this version")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "move to column")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority")
	cmd.Flags().IntVar(&sortOrder, "sort-order", 0, "position in column")
	cmd.Flags().BoolVar(&clearSort, "clear-sort-order", false, "drop the explicit position")
	cmd.Flags().StringVar(&owner, "owner", "", "owner agent id (empty unassigns)")
	return cmd
}

func boardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show the board by column",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cols, err := e.Board(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cols)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Column", "ID", "Title", "Owner"})
				for _, col := range cols {
					if len(col.Tasks) == 0 {
						tw.AppendRow(table.Row{col.Status, "", "", ""})
						continue
					}
					for _, t := range col.Tasks {
						tw.AppendRow(table.Row{col.Status, t.ID, t.Title, derefString(t.OwnerAgentID)})
					}
					tw.AppendSeparator()
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- conversations ---

func conversationCmd() *cobra.Command {
	conv := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Read and append transcripts",
	}
	conv.AddCommand(conversationShowCmd())
	conv.AddCommand(conversationAppendCmd())
	conv.AddCommand(conversationForTaskCmd())
	return conv
}

func conversationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a transcript in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				turns, err := e.ReadTurns(ctx, args[0])
				if err != nil {
					return err
				}
				return printTurns(turns)
			})
		},
	}
}

func conversationForTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "task <task-id>",
		Short: "Show a task's conversation, opening it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.TaskConversation(ctx, args[0], cliActor())
				if err != nil {
					return err
				}
				turns, err := e.ReadTurns(ctx, c.ID)
				if err != nil {
					return err
				}
				if !viper.GetBool("json") {
					fmt.Printf("conversation %s\n", c.ID)
				}
				return printTurns(turns)
			})
		},
	}
}

func conversationAppendCmd() *cobra.Command {
	var content, speakerType, toolEvents string
	cmd := &cobra.Command{
		Use:   "append <id>",
		Short: "Append a turn as the current actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := cliActor()
			in := engine.TurnInput{
				SpeakerType:    speakerType,
				SpeakerID:      actor.ID,
				Content:        content,
				ToolEventsJSON: toolEvents,
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.AppendTurn(ctx, args[0], in, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "turn text")
	cmd.Flags().StringVar(&speakerType, "speaker-type", domain.SpeakerOperator, "system, agent or operator")
	cmd.Flags().StringVar(&toolEvents, "tool-events-json", "", "tool events JSON")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

// --- war room ---

func meetingCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "meeting",
		Short: "Run and inspect war-room meetings",
		Long:  "A meeting asks every enabled agent for status in parallel, records each reply in roster order, writes one summary and posts it to the configured chat once.",
	}
	m.AddCommand(meetingRunCmd())
	m.AddCommand(meetingListCmd())
	m.AddCommand(meetingShowCmd())
	return m
}

func meetingRunCmd() *cobra.Command {
	var slot string
	var applyMoves bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a war-room meeting now",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := cliOverrides()
			if cmd.Flags().Changed("apply-moves") {
				overrides.ApplyMoves = &applyMoves
			}
			return withApp(cmd.Context(), overrides, func(ctx context.Context, ac *app.Context) error {
				run, err := ac.Chair.RunMeeting(ctx, chair.RunOptions{Slot: slot, TriggeredBy: cliActor().ID})
				var delErr *gateway.DeliveryError
				if err != nil && !(errors.As(err, &delErr) && run.ID != "") {
					return err
				}
				if perr := printRun(run); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "", "meeting slot key; a second run for the same slot returns the first")
	cmd.Flags().BoolVar(&applyMoves, "apply-moves", false, "apply board moves proposed in reports")
	return cmd
}

func meetingListCmd() *cobra.Command {
	var limit int
	var cursor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runs, next, err := e.ListRuns(ctx, limit, cursor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"items": runs, "next_cursor": next})
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "State", "Slot", "Created", "Delivery error"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.ID, r.State, derefString(r.Slot), r.CreatedAt, derefString(r.DeliveryError)})
				}
				tw.Render()
				if next != "" {
					fmt.Printf("next cursor: %s\n", next)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor from a previous page")
	return cmd
}

func meetingShowCmd() *cobra.Command {
	var transcript bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and optionally its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := e.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				if !transcript {
					return printRun(run)
				}
				turns, err := e.ReadTurns(ctx, run.ConversationID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "turns": turns})
				}
				if err := printRun(run); err != nil {
					return err
				}
				return printTurns(turns)
			})
		},
	}
	cmd.Flags().BoolVar(&transcript, "transcript", false, "include the transcript")
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	a := &cobra.Command{Use: "audit", Short: "Inspect the audit log"}
	a.AddCommand(auditTailCmd())
	return a
}

func auditTailCmd() *cobra.Command {
	var f repo.AuditFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListAudit(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "When", "Actor", "Action", "Entity", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.CreatedAt, evt.Actor, evt.Action, evt.EntityType + ":" + evt.EntityID, evt.PayloadJSON})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Actor, "actor", "", "actor filter")
	cmd.Flags().StringVar(&f.Action, "action", "", "action filter")
	cmd.Flags().StringVar(&f.EntityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	return cmd
}

// --- gateway ---

func gatewayCmd() *cobra.Command {
	g := &cobra.Command{Use: "gateway", Short: "Agent gateway"}
	g.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Probe the gateway and its tool endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cliOverrides(), func(ctx context.Context, ac *app.Context) error {
				st := ac.Gateway.Probe(ctx)
				if viper.GetBool("json") {
					return printJSON(st)
				}
				tw := newTable()
				tw.AppendRows([]table.Row{
					{"Configured", st.Configured},
					{"URL", st.GatewayURL},
					{"Reachable", st.Reachable},
					{"Auth OK", st.AuthOK},
					{"Tool invoke OK", st.ToolInvokeOK},
					{"Error", st.Error},
				})
				tw.Render()
				return nil
			})
		},
	})
	return g
}

// --- credentials ---

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyRevokeCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var forActor, role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if forActor == "" {
					forActor = cliActor().ID
				}
				key, plaintext, err := e.CreateAPIKey(ctx, forActor, role, name, cliActor())
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "role": key.Role, "key": plaintext})
			})
		},
	}
	cmd.Flags().StringVar(&forActor, "for", "", "actor the key authenticates as (default: --actor-id)")
	cmd.Flags().StringVar(&role, "role", "operator", "role granted by the key (operator or viewer)")
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var forActor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, forActor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Actor", "Role", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&forActor, "for", "", "only keys for this actor")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0], cliActor()); err != nil {
					return err
				}
				fmt.Printf("revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API (MISSIONCONTROL_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), cliActor().ID, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&roles, "role", []string{"operator"}, "role claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Workspace configuration (missioncontrol.yml)",
	}
	c.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default missioncontrol.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			cfg.Apply(cliOverrides())
			if err := cfg.Validate(); err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	return c
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: legacyHeader,
			}
			if authCfg.JWTSecret == "" && !legacyHeader {
				return fmt.Errorf("MISSIONCONTROL_JWT_SECRET is required for bearer auth")
			}
			return withApp(cmd.Context(), cliOverrides(), func(ctx context.Context, ac *app.Context) error {
				authCfg.Logger = ac.Logger
				handler, err := server.New(server.Config{
					Engine:   ac.Engine,
					Chair:    ac.Chair,
					Gateway:  ac.Gateway,
					BasePath: basePath,
					Auth:     authCfg,
				})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, ac.Engine, ac.Logger)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Mission Control API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept unauthenticated X-Actor-Id (local development only)")
	return cmd
}

// --- helpers ---

func cliActor() audit.Actor {
	return audit.Actor{ID: viper.GetString("actor-id"), Role: "operator"}
}

func cliOverrides() config.Overrides {
	return config.Overrides{
		GatewayURL:   viper.GetString("gateway-url"),
		GatewayToken: viper.GetString("gateway-token"),
		ChatID:       viper.GetString("chat-id"),
		TopicID:      viper.GetString("topic-id"),
	}
}

func withApp(ctx context.Context, overrides config.Overrides, fn func(context.Context, *app.Context) error) error {
	ac, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Overrides: overrides,
		Logger:    log.New(os.Stderr, "mc: ", log.LstdFlags),
	})
	if err != nil {
		return err
	}
	defer ac.Close()
	return fn(ctx, ac)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, cliOverrides(), func(ctx context.Context, ac *app.Context) error {
		return fn(ctx, ac.Engine)
	})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printRun(run domain.WarRoomRun) error {
	if viper.GetBool("json") {
		return printJSON(run)
	}
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"Run", run.ID},
		{"State", run.State},
		{"Slot", derefString(run.Slot)},
		{"Conversation", run.ConversationID},
		{"Delivered at", derefString(run.DeliveredAt)},
		{"Delivery error", derefString(run.DeliveryError)},
	})
	tw.Render()
	if run.FinalAnswer != "" {
		fmt.Println(run.FinalAnswer)
	}
	return nil
}

func printTurns(turns []domain.Turn) error {
	if viper.GetBool("json") {
		return printJSON(turns)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Seq", "Speaker", "Content"})
	for _, t := range turns {
		speaker := t.SpeakerType
		if id := derefString(t.SpeakerID); id != "" {
			speaker += ":" + id
		}
		tw.AppendRow(table.Row{t.Seq, speaker, t.Content})
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

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
