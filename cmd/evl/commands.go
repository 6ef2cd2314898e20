package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"eventline/internal/app"
	"eventline/internal/config"
	"eventline/internal/db"
	"eventline/internal/domain"
	"eventline/internal/server"
	eventlinesdk "eventline/sdk/go"
)

func runCmd() *cobra.Command {
	run := &cobra.Command{Use: "run", Short: "Manage planning runs"}
	run.AddCommand(runCreateCmd())
	run.AddCommand(runShowCmd())
	run.AddCommand(runListCmd())
	return run
}

func runCreateCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a new run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				run, err := b.CreateRun(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run)
				}
				fmt.Println(run.RunID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "run id (default: generated)")
	return cmd
}

func runShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a run's document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				run, err := b.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(run)
			})
		},
	}
	return cmd
}

func runListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				items, err := b.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Phase", "Version", "Updated"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Phase, r.Version, r.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum runs to list")
	return cmd
}

func chatCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "chat MESSAGE...",
		Short: "Send one message to a run and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return fmt.Errorf("--run required")
			}
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				res, err := b.SendTurn(ctx, runID, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Print(renderMarkdown(res.Reply))
				for _, field := range res.Committed {
					fmt.Printf("committed %s\n", field)
				}
				for _, w := range res.Warnings {
					fmt.Fprintf(os.Stderr, "warning: %s\n", w)
				}
				fmt.Printf("phase: %s (version %d)\n", res.NextPhase, res.Version)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	return cmd
}

func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text + "\n"
	}
	out, err := r.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

func reconcileCmd() *cobra.Command {
	var runID, email, mode string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Create the run's event, contents, parts and suppliers in the booking system",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" || email == "" {
				return fmt.Errorf("--run and --email required")
			}
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				res, err := b.Reconcile(ctx, runID, email, mode)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printReconcile(res)
				if res.Status != "succeeded" {
					return fmt.Errorf("reconcile %s", res.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().StringVar(&email, "email", "", "organizer email")
	cmd.Flags().StringVar(&mode, "mode", "create", "create, attach or send")
	return cmd
}

func printReconcile(res eventlinesdk.ReconcileResult) {
	fmt.Printf("event %s: %s\n", res.EventID, res.Status)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Content", "Step", "Result"})
	for _, c := range res.Contents {
		if c.Error != "" {
			tw.AppendRow(table.Row{c.Name, "content", c.Error})
			continue
		}
		for _, p := range c.Parts {
			tw.AppendRow(table.Row{c.Name, "part " + p.Name, unitStatus(p)})
		}
		for _, u := range []*eventlinesdk.UnitResult{c.Suppliers, c.Send} {
			if u != nil {
				tw.AppendRow(table.Row{c.Name, u.Name, unitStatus(*u)})
			}
		}
	}
	tw.Render()
}

func unitStatus(u eventlinesdk.UnitResult) string {
	if u.OK {
		return "ok"
	}
	return "failed: " + u.Error
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every run creation, turn, phase commit, compaction and reconciliation is recorded here.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var runID string
	var n int
	var follow bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				page, err := b.EventsPage(ctx, runID, n, "")
				if err != nil {
					return err
				}
				var last int64
				for i := len(page.Items) - 1; i >= 0; i-- {
					printEvent(page.Items[i])
					last = page.Items[i].ID
				}
				for follow {
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(time.Second):
					}
					items, err := b.EventsAfter(ctx, runID, last, 100)
					if err != nil {
						return err
					}
					for _, evt := range items {
						printEvent(evt)
						last = evt.ID
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only events of this run")
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of events")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new events")
	return cmd
}

func printEvent(evt eventlinesdk.Event) {
	if viper.GetBool("json") {
		_ = printJSON(evt)
		return
	}
	payload, _ := json.Marshal(evt.Payload)
	fmt.Printf("%d %s %-16s %s %s %s\n", evt.ID, evt.TS, evt.Type, evt.RunID, evt.Phase, payload)
}

func toEvents(items []domain.Event) ([]eventlinesdk.Event, error) {
	out := make([]eventlinesdk.Event, 0, len(items))
	for _, it := range items {
		payload := map[string]any{}
		if err := json.Unmarshal([]byte(it.Payload), &payload); err != nil {
			return nil, fmt.Errorf("event %d payload: %w", it.ID, err)
		}
		out = append(out, eventlinesdk.Event{ID: it.ID, TS: it.TS, Type: it.Type, RunID: it.RunID, Phase: it.Phase, Payload: payload})
	}
	return out, nil
}

type catalogFile struct {
	Categories []domain.Category `yaml:"categories"`
}

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{Use: "catalog", Short: "Supplier category catalog"}
	cat.AddCommand(catalogImportCmd())
	cat.AddCommand(catalogListCmd())
	return cat
}

func catalogImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the category catalog from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var cf catalogFile
			if err := yaml.Unmarshal(data, &cf); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			for _, c := range cf.Categories {
				if c.ID == 0 || strings.TrimSpace(c.Name) == "" {
					return fmt.Errorf("category entries need id and name")
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.ImportCatalog(ctx, cf.Categories); err != nil {
					return err
				}
				fmt.Printf("imported %d categories\n", len(cf.Categories))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "catalog YAML (categories: [{id, name, en_name, parent_id, type}])")
	return cmd
}

func catalogListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Repo(ctx)
				if err != nil {
					return err
				}
				cats, err := r.ListCategories(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cats)
				}
				allowed := map[string]bool{}
				for _, name := range a.Config.Catalog.Allowed {
					allowed[strings.ToLower(name)] = true
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "English", "Allowed"})
				for _, c := range cats {
					tw.AppendRow(table.Row{c.ID, c.Name, c.EnName, len(allowed) == 0 || allowed[strings.ToLower(c.EnName)]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default eventline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
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
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("# database: %s\n", db.Path(viper.GetString("workspace")))
			fmt.Print(string(out))
			return nil
		},
	}
}

func jwtSecret(cfg *config.Config) string {
	if cfg.Server.JWTSecretEnv == "" {
		return ""
	}
	return os.Getenv(cfg.Server.JWTSecretEnv)
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{JWTSecret: jwtSecret(a.Config), Logger: a.Logger}
				if authCfg.JWTSecret == "" {
					a.Logger.Warn("no JWT secret configured; API is unauthenticated", zap.String("env", a.Config.Server.JWTSecretEnv))
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg, Logger: a.Logger.Named("http")})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdown)
				}()
				a.Logger.Info("serving eventline API", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Printf("Serving eventline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with the server's JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			secret := jwtSecret(cfg)
			if secret == "" {
				return fmt.Errorf("%s is empty", cfg.Server.JWTSecretEnv)
			}
			token, err := server.SignToken(secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "local-user", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
