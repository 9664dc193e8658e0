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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"creativeline/internal/app"
	"creativeline/internal/gallery"
	"creativeline/internal/prescreen"
	"creativeline/internal/repo"
	"creativeline/internal/server"
)

func prescreenCmd() *cobra.Command {
	var mainMessage, subMessage string
	cmd := &cobra.Command{
		Use:   "prescreen [text]",
		Short: "Check copy for alcohol terms before submitting",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			var flagged bool
			if text != "" {
				flagged = prescreen.Screen(text)
			} else {
				flagged = prescreen.ScreenEdit(mainMessage, subMessage)
			}
			if viper.GetBool("json") {
				return printJSON(map[string]bool{"alcohol_advisory": flagged})
			}
			if flagged {
				fmt.Println("Mentions alcohol: the rendering service will likely ask for a Drinkaware lock-up.")
			} else {
				fmt.Println("No alcohol terms found.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mainMessage, "main", "", "main message")
	cmd.Flags().StringVar(&subMessage, "sub", "", "sub message")
	return cmd
}

func galleryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gallery",
		Short: "List creatives saved to your account, grouped by batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			svc := gallery.Service{Client: newClient(log), Log: log}
			batches, err := svc.Batches(cmd.Context(), credentials())
			if errors.Is(err, gallery.ErrNoCredential) {
				return fmt.Errorf("%w: pass --token or set CREATIVELINE_TOKEN", err)
			}
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(batches)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Batch", "Color", "Created", "Format", "Location", "Downloads"})
			for _, b := range batches {
				for i, r := range b.Records {
					key, color, created := "", "", ""
					if i == 0 {
						key, color, created = b.Key, b.Color, b.CreatedAt
					}
					var encs []string
					for _, d := range r.Downloads() {
						encs = append(encs, string(d.Encoding))
					}
					tw.AppendRow(table.Row{key, color, created, r.Format, r.Location(), strings.Join(encs, ",")})
				}
				tw.AppendSeparator()
			}
			tw.Render()
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "What happened to each draft: edits, asset uploads, attempts and confirmations.",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	var all bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStudio(cmd.Context(), func(ctx context.Context, st *app.Studio) error {
				f := repo.EventFilters{Type: evtType, Limit: n}
				if !all {
					if id := strings.TrimSpace(viper.GetString("draft")); id != "" {
						f.DraftID = id
					}
				}
				items, err := st.Events(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Draft", "Attempt", "Payload"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.DraftID, e.AttemptID, string(e.Payload)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().BoolVar(&all, "all", false, "include every draft, not only the current one")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStudio(cmd.Context(), func(ctx context.Context, st *app.Studio) error {
				handler, err := server.New(server.Config{
					Studio:      st,
					Gallery:     gallery.Service{Client: newClient(st.Log), Log: st.Log},
					BasePath:    basePath,
					Log:         st.Log,
					Credentials: credentials(),
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Creativeline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}
