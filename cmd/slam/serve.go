package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"slam/internal/app"
	"slam/internal/audit"
	"slam/internal/config"
	"slam/internal/diagnostics"
	"slam/internal/export"
	"slam/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long: `Serves POST/GET /exec, the REST API under the base path, Swagger UI at /docs
and, when metrics are enabled, Prometheus metrics.
Identity: a bearer JWT signed with SLAM_JWT_SECRET, else X-Actor-Id when
auth.allow_actor_header is set, else auth.default_actor.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			if basePath == "" {
				basePath = a.Config.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:        jwtSecret(cmd),
					AllowActorHeader: a.Config.Auth.AllowActorHeader,
					DefaultActor:     a.Config.Auth.DefaultActor,
				},
				Log:         a.Log,
				Metrics:     a.Metrics,
				MetricsPath: a.Config.Metrics.Path,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if len(a.Config.Webhooks) > 0 {
				server.NewWebhookDispatcher(audit.Writer{DB: a.DB}, a.Config.Webhooks, a.Log).Start(ctx)
			}

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			a.Log.Info("serving", "addr", addr, "base_path", basePath, "dialect", a.DB.Dialect)
			fmt.Printf("Serving SLAM API on http://%s (/exec, REST under %s, OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (env SLAM_JWT_SECRET)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <path|s3://bucket/key>",
		Short: "Write a JSON snapshot of all records and relationships",
		Long: `Writes every record, deleted ones included, plus all relationships.
S3 targets use export.s3_region, export.s3_endpoint and export.s3_path_style
from slam.yml and the default AWS credential chain.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := requirePermission(a, config.PermAdmin); err != nil {
					return err
				}
				sink, err := export.Open(ctx, args[0], export.S3Config{
					Region:    a.Config.Export.S3Region,
					Endpoint:  a.Config.Export.S3Endpoint,
					PathStyle: a.Config.Export.S3PathStyle,
				})
				if err != nil {
					return err
				}
				snap, err := export.Take(ctx, a.Engine)
				if err != nil {
					return err
				}
				if err := export.Write(ctx, sink, snap); err != nil {
					return err
				}
				a.Log.Info("export written", "target", sink.String(), "records", snap.Count, "relationships", len(snap.Relationships))
				if viper.GetBool("json") {
					return printJSON(map[string]any{"target": sink.String(), "records": snap.Count, "relationships": len(snap.Relationships)})
				}
				fmt.Printf("exported %d record(s) and %d relationship(s) to %s\n", snap.Count, len(snap.Relationships), sink)
				return nil
			})
		},
	}
	return cmd
}

func doctorCmd() *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the store for inconsistencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if fix {
					if err := requirePermission(a, config.PermAdmin); err != nil {
						return err
					}
				}
				report, err := diagnostics.Run(ctx, a.Engine, diagnostics.Options{Fix: fix})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(report); err != nil {
						return err
					}
				} else {
					printReport(report)
				}
				if !report.OK {
					return fmt.Errorf("doctor found problems")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "repair what can be repaired automatically")
	return cmd
}

func printReport(r diagnostics.Report) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Check", "Status", "Message"})
	for _, c := range r.Checks {
		status := c.Status
		if c.Fixed {
			status += " (fixed)"
		}
		tw.AppendRow(table.Row{c.Name, status, c.Message})
		for _, d := range c.Detail {
			tw.AppendRow(table.Row{"", "", "  " + d})
		}
	}
	tw.AppendFooter(table.Row{"records", r.Records, ""})
	tw.Render()
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := jwtSecret(cmd)
			if secret == "" {
				return fmt.Errorf("SLAM_JWT_SECRET or --jwt-secret is required")
			}
			token, err := server.SignToken(secret, actorID())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().String("jwt-secret", "", "HS256 secret (env SLAM_JWT_SECRET)")
	return cmd
}

// jwtSecret prefers --jwt-secret over SLAM_JWT_SECRET.
func jwtSecret(cmd *cobra.Command) string {
	if s, _ := cmd.Flags().GetString("jwt-secret"); s != "" {
		return s
	}
	return viper.GetString("jwt-secret")
}
