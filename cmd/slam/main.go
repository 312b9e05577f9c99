package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"slam/internal/app"
	"slam/internal/audit"
	"slam/internal/config"
	"slam/internal/db"
	"slam/internal/domain"
	"slam/internal/engine"
	"slam/internal/engine/auth"
)

var rootCmd = &cobra.Command{
	Use:   "slam",
	Short: "SLA management store",
	Long: `slam keeps service level agreements in a SQL-backed record store.
- Workspace: a directory holding slam.yml and, for SQLite, .slam/slam.db.
- Records: SLAs with an id like SLA-000001, a rowVersion for optimistic updates and soft delete.
- Relationships: typed links (depends-on, blocks, related-to) between two SLAs.
- Activity log: every change with old and new values, view with 'slam log tail'.
- API: 'slam serve' exposes the /exec action endpoint and a REST surface under /v1.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if viper.GetString("database-dsn") != "" {
			return nil
		}
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
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SLAM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/slam.yml)")
	rootCmd.PersistentFlags().String("database-dsn", "", "database DSN (overrides slam.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	for _, name := range []string{"workspace", "config", "database-dsn", "json", "actor-id"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(slaCmd())
	rootCmd.AddCommand(relationshipCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(permissionsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(tokenCmd())
}

func slaCmd() *cobra.Command {
	sla := &cobra.Command{Use: "sla", Short: "Manage SLA records"}
	sla.AddCommand(slaCreateCmd())
	sla.AddCommand(slaGetCmd())
	sla.AddCommand(slaListCmd())
	sla.AddCommand(slaUpdateCmd())
	sla.AddCommand(slaDeleteCmd())
	return sla
}

func slaCreateCmd() *cobra.Command {
	var data string
	var sets []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an SLA",
		Example: `  slam sla create --set name=Uptime --set type=percentage --set teamId=TEAM-001 \
    --set startDate=2024-01-01 --set endDate=2024-12-31 --set targetValue=99.9`,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := fieldsFromFlags(data, sets)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := requirePermission(a, config.PermCreate); err != nil {
					return err
				}
				rec, err := a.Engine.Create(ctx, actorID(), payload)
				if err != nil {
					return err
				}
				return printRecord(rec)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "JSON object of fields")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value (repeatable; values parse as JSON when possible)")
	return cmd
}

func slaGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show an SLA with its relationships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := requirePermission(a, config.PermView); err != nil {
					return err
				}
				rec, err := a.Engine.Read(ctx, args[0])
				if err != nil {
					return err
				}
				return printRecord(rec)
			})
		},
	}
	return cmd
}

func slaListCmd() *cobra.Command {
	var filters, sortField, direction string
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Query SLAs",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.QueryOptions{}
			if filters != "" {
				if err := json.Unmarshal([]byte(filters), &opts.Filters); err != nil {
					return fmt.Errorf("--filters must be a JSON object: %w", err)
				}
			}
			if sortField != "" {
				opts.Sort = &engine.Sort{Field: sortField, Direction: direction}
			}
			if pageSize > 0 {
				opts.Pagination = &engine.Pagination{Page: page, PageSize: pageSize}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := requirePermission(a, config.PermView); err != nil {
					return err
				}
				res, err := a.Engine.Query(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Team", "Status", "Current", "Target", "Version"})
				for _, r := range res.Data {
					tw.AppendRow(table.Row{r.SLAID, r.Name, r.Type, r.TeamID, r.Status, r.CurrentValue, optionalFloat(r.TargetValue), r.RowVersion})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "", "", "total", res.Total})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filters, "filters", "", `JSON filters, e.g. {"teamId":"TEAM-001","status":["met","at-risk"]}`)
	cmd.Flags().StringVar(&sortField, "sort", "", "sort field")
	cmd.Flags().StringVar(&direction, "direction", "asc", "sort direction (asc|desc)")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "page size (0 returns everything)")
	return cmd
}

func slaUpdateCmd() *cobra.Command {
	var data string
	var sets []string
	var rowVersion int64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update SLA fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := fieldsFromFlags(data, sets)
			if err != nil {
				return err
			}
			if len(updates) == 0 {
				return fmt.Errorf("nothing to update; pass --set or --data")
			}
			if cmd.Flags().Changed("row-version") {
				updates["rowVersion"] = rowVersion
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := requirePermission(a, config.PermEdit); err != nil {
					return err
				}
				rec, err := a.Engine.Update(ctx, actorID(), args[0], updates)
				if err != nil {
					return err
				}
				return printRecord(rec)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "JSON object of fields")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value (repeatable)")
	cmd.Flags().Int64Var(&rowVersion, "row-version", 0, "expected rowVersion")
	return cmd
}

func slaDeleteCmd() *cobra.Command {
	var rowVersion int64
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft delete an SLA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var version *int64
			if cmd.Flags().Changed("row-version") {
				version = &rowVersion
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := requirePermission(a, config.PermDelete); err != nil {
					return err
				}
				rec, err := a.Engine.Delete(ctx, actorID(), args[0], version)
				if err != nil {
					return err
				}
				return printRecord(rec)
			})
		},
	}
	cmd.Flags().Int64Var(&rowVersion, "row-version", 0, "expected rowVersion")
	return cmd
}

func relationshipCmd() *cobra.Command {
	rel := &cobra.Command{Use: "relationship", Aliases: []string{"rel"}, Short: "Manage SLA relationships"}
	rel.AddCommand(relationshipAddCmd())
	rel.AddCommand(relationshipListCmd())
	rel.AddCommand(relationshipRemoveCmd())
	return rel
}

func relationshipAddCmd() *cobra.Command {
	var relType, notes string
	cmd := &cobra.Command{
		Use:   "add <source> <target>",
		Short: "Link two SLAs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := requirePermission(a, config.PermEdit); err != nil {
					return err
				}
				out, err := a.Engine.CreateRelationship(ctx, actorID(), domain.Relationship{
					SourceSLAID:      args[0],
					TargetSLAID:      args[1],
					RelationshipType: relType,
					Notes:            notes,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("%s %s %s\n", out.SourceSLAID, out.RelationshipType, out.TargetSLAID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&relType, "type", "related-to", strings.Join(domain.RelationshipTypes, "|"))
	cmd.Flags().StringVar(&notes, "notes", "", "free text")
	return cmd
}

func relationshipListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <id>",
		Short: "List relationships touching an SLA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := requirePermission(a, config.PermView); err != nil {
					return err
				}
				rels, err := a.Engine.RelationshipsFor(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rels)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Source", "Type", "Target", "Notes", "Created By"})
				for _, r := range rels {
					tw.AppendRow(table.Row{r.SourceSLAID, r.RelationshipType, r.TargetSLAID, r.Notes, r.CreatedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func relationshipRemoveCmd() *cobra.Command {
	var relType string
	cmd := &cobra.Command{
		Use:   "remove <source> <target>",
		Short: "Remove a link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := requirePermission(a, config.PermEdit); err != nil {
					return err
				}
				if err := a.Engine.DeleteRelationship(ctx, actorID(), args[0], args[1], relType); err != nil {
					return err
				}
				fmt.Println("removed")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&relType, "type", "", "relationship type")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Activity log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var f audit.Filter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest activity entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := requirePermission(a, config.PermView); err != nil {
					return err
				}
				entries, err := audit.Writer{DB: a.DB}.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Entity", "Action", "Actor", "Message"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.TS, e.EntityID, e.Action, e.ActorID, e.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of entries")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity filter")
	cmd.Flags().StringVar(&f.Action, "action", "", "action filter")
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
	return cmd
}

func permissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Show the effective permissions of --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p := auth.Service{Config: a.Config}.Permissions(actorID())
				if viper.GetBool("json") {
					return printJSON(p)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Actor", "Role", "View", "Create", "Edit", "Delete", "Admin"})
				tw.AppendRow(table.Row{p.ActorID, p.Role, p.CanView, p.CanCreate, p.CanEdit, p.CanDelete, p.IsAdmin})
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage slam.yml",
		Long:  "slam.yml holds the id format, database DSN, roles and assignments, logging, metrics, export and webhook settings. A missing file means defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default slam.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate slam.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

// --- helpers ---

func actorID() string {
	return viper.GetString("actor-id")
}

func configPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return config.Path(viper.GetString("workspace"))
}

func loadConfig() (*config.Config, error) {
	if p := viper.GetString("config"); p != "" {
		return config.FromFile(p)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func openApp() (*app.App, error) {
	return app.Open(app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		DSN:        viper.GetString("database-dsn"),
	})
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) (err error) {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()
	return fn(ctx, a)
}

// requirePermission applies the same role checks as the API to the local
// --actor-id.
func requirePermission(a *app.App, perm string) error {
	return auth.Service{Config: a.Config}.Require(actorID(), perm)
}

// fieldsFromFlags merges --data with --set pairs; --set wins.
func fieldsFromFlags(data string, sets []string) (map[string]any, error) {
	out := map[string]any{}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &out); err != nil {
			return nil, fmt.Errorf("--data must be a JSON object: %w", err)
		}
	}
	for _, kv := range sets {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("--set expects field=value, got %q", kv)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[strings.TrimSpace(key)] = v
	}
	return out, nil
}

func printRecord(rec domain.Record) error {
	if viper.GetBool("json") {
		return printJSON(rec)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Field", "Value"})
	for _, k := range keys {
		v := fields[k]
		switch v.(type) {
		case map[string]any, []any:
			b, _ := json.Marshal(v)
			v = string(b)
		}
		tw.AppendRow(table.Row{k, v})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalFloat(f *float64) any {
	if f == nil {
		return ""
	}
	return *f
}
