package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"staffline/internal/app"
	"staffline/internal/domain"
	"staffline/internal/engine"
	"staffline/internal/repo"
	"staffline/internal/scheduler"
	"staffline/internal/server"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Inspect projects and change their status"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectHistoryCmd())
	prj.AddCommand(projectStatusCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.ProjectFilters{Limit: limit}
			if status != "" {
				s, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				f.Status = s
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Name", "Status", "Start", "End"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Code, p.Name, p.Status, lo.FromPtr(p.StartDate), lo.FromPtr(p.EndDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project and its worker assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, args[0])
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("project %s not found", args[0])
				}
				if err != nil {
					return err
				}
				assignments, err := e.Repo.ListAssignments(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "assignments": assignments})
				}
				fmt.Printf("%s  %s  [%s]\n", p.Code, p.Name, p.Status)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Assignment", "Profile", "Stage", "Deployed", "Removed"})
				for _, a := range assignments {
					stage := ""
					if prof, err := e.Repo.GetProfile(ctx, a.ProfileID); err == nil {
						stage = string(prof.CurrentStage)
					}
					tw.AppendRow(table.Row{a.ID, a.ProfileID, stage, lo.FromPtr(a.DeployedDate), lo.FromPtr(a.RemovedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <project-id>",
		Short: "Show the status history ledger of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListStatusHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "From", "To", "By", "Attributable", "Reason"})
				for _, h := range items {
					from := ""
					if h.FromStatus != nil {
						from = string(*h.FromStatus)
					}
					tw.AppendRow(table.Row{h.StatusDate, from, h.ToStatus, h.ChangedByUserID, lo.FromPtr(h.AttributableTo), h.ChangeReason})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectStatusCmd() *cobra.Command {
	st := &cobra.Command{Use: "status", Short: "Change a project's status"}
	st.AddCommand(statusStartCmd())
	st.AddCommand(statusHoldCmd())
	st.AddCommand(statusResumeCmd())
	st.AddCommand(statusCompleteCmd())
	st.AddCommand(statusShortCloseCmd())
	st.AddCommand(statusTerminateCmd())
	return st
}

// documentFlags collects repeated --document "title=url" values.
func documentFlags(cmd *cobra.Command, dst *[]string) {
	cmd.Flags().StringArrayVar(dst, "document", nil, `attach an uploaded document as "title=url" (repeatable)`)
}

func parseDocuments(raw []string) ([]domain.DocumentInput, error) {
	out := make([]domain.DocumentInput, 0, len(raw))
	for _, r := range raw {
		title, url, ok := strings.Cut(r, "=")
		if !ok || title == "" || url == "" {
			return nil, fmt.Errorf("--document: expected title=url, got %q", r)
		}
		out = append(out, domain.DocumentInput{DocumentTitle: title, FileURL: url, UploadedByUserID: viper.GetString("actor-id")})
	}
	return out, nil
}

func statusStartCmd() *cobra.Command {
	var startDate, notes string
	cmd := &cobra.Command{
		Use:   "start <project-id>",
		Short: "Start a planned project and deploy its workers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseDate("start-date", startDate)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Start(ctx, engine.StartOptions{ProjectID: args[0], UserID: viper.GetString("actor-id"), StartDate: at, Notes: notes})
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&startDate, "start-date", "", "start date (default now)")
	cmd.Flags().StringVar(&notes, "notes", "", "change notes")
	return cmd
}

func statusHoldCmd() *cobra.Command {
	var reason, notes string
	var docs []string
	cmd := &cobra.Command{
		Use:   "hold <project-id>",
		Short: "Put an ongoing project on hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			documents, err := parseDocuments(docs)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Hold(ctx, engine.HoldOptions{
					ProjectID: args[0], UserID: viper.GetString("actor-id"),
					Reason: domain.HoldReason(reason), Notes: notes, Documents: documents,
				})
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "employer, buildsewa or force_majeure")
	cmd.Flags().StringVar(&notes, "notes", "", "change notes")
	documentFlags(cmd, &docs)
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func statusResumeCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "resume <project-id>",
		Short: "Resume an on-hold project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Resume(ctx, engine.ResumeOptions{ProjectID: args[0], UserID: viper.GetString("actor-id"), ResumeReason: reason})
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "resume reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func statusCompleteCmd() *cobra.Command {
	var endDate, notes string
	cmd := &cobra.Command{
		Use:   "complete <project-id>",
		Short: "Complete a project and bench its workers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseDate("end-date", endDate)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Complete(ctx, engine.CompleteOptions{ProjectID: args[0], UserID: viper.GetString("actor-id"), ActualEndDate: at, CompletionNotes: notes})
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&endDate, "end-date", "", "actual end date (default now)")
	cmd.Flags().StringVar(&notes, "notes", "", "completion notes")
	return cmd
}

func statusShortCloseCmd() *cobra.Command {
	var endDate, reason string
	var docs []string
	cmd := &cobra.Command{
		Use:   "short-close <project-id>",
		Short: "End a project early",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseDate("end-date", endDate)
			if err != nil {
				return err
			}
			documents, err := parseDocuments(docs)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ShortClose(ctx, engine.ShortCloseOptions{
					ProjectID: args[0], UserID: viper.GetString("actor-id"),
					ActualEndDate: at, ShortCloseReason: reason, Documents: documents,
				})
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&endDate, "end-date", "", "actual end date (default now)")
	cmd.Flags().StringVar(&reason, "reason", "", "short close reason")
	documentFlags(cmd, &docs)
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func statusTerminateCmd() *cobra.Command {
	var date, reason string
	var docs []string
	cmd := &cobra.Command{
		Use:   "terminate <project-id>",
		Short: "Terminate a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseDate("date", date)
			if err != nil {
				return err
			}
			documents, err := parseDocuments(docs)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Terminate(ctx, engine.TerminateOptions{
					ProjectID: args[0], UserID: viper.GetString("actor-id"),
					TerminationDate: at, TerminationReason: reason, Documents: documents,
				})
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "termination date (default now)")
	cmd.Flags().StringVar(&reason, "reason", "", "termination reason")
	documentFlags(cmd, &docs)
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func profileCmd() *cobra.Command {
	prof := &cobra.Command{Use: "profile", Short: "Inspect worker profiles"}
	var to string
	transitions := &cobra.Command{
		Use:   "transitions <profile-id>",
		Short: "Show the stage transition ledger of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var want domain.Stage
			if to != "" {
				s, err := domain.ParseStage(to)
				if err != nil {
					return err
				}
				want = s
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListStageTransitions(ctx, args[0])
				if err != nil {
					return err
				}
				if want != "" {
					items = lo.Filter(items, func(t domain.StageTransition, _ int) bool { return t.ToStage == want })
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "From", "To", "By", "Notes"})
				for _, t := range items {
					from := ""
					if t.FromStage != nil {
						from = string(*t.FromStage)
					}
					tw.AppendRow(table.Row{t.TransitionedAt, from, t.ToStage, t.TransitionedByUserID, t.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
	transitions.Flags().StringVar(&to, "to", "", "Only show transitions into this stage")
	prof.AddCommand(transitions)
	return prof
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				secret := viper.GetString("jwt-secret")
				if secret == "" {
					secret = cfg.Auth.JWTSecret
				}
				if secret == "" && !cfg.Auth.AllowActorHeader {
					return fmt.Errorf("STAFFLINE_JWT_SECRET or auth.jwt_secret is required when the actor header is disabled")
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, AllowActorHeader: cfg.Auth.AllowActorHeader, Logger: rt.Log},
					Log:      rt.Log,
					Metrics:  rt.Metrics,
				})
				if err != nil {
					return err
				}

				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				server.StartWebhookDispatcher(ctx, rt.Engine, cfg.Webhooks, rt.Log)
				if cfg.Scheduler.Enabled {
					sch := scheduler.New(rt.Engine, rt.Log, cfg.Location())
					if err := sch.Start(cfg.Scheduler.Spec); err != nil {
						return err
					}
					defer sch.Stop()
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Log.Info("serving staffline API", "addr", addr, "base_path", basePath, "openapi", "/openapi.json", "docs", "/docs")
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
