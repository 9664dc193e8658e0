package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"creativeline/internal/app"
	"creativeline/internal/db"
	"creativeline/internal/logging"
	"creativeline/internal/migrate"
	"creativeline/internal/repo"
	"creativeline/internal/session"
	"creativeline/internal/studio"
)

const envDraftKey = "CREATIVELINE_DRAFT"

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Creativeline CLI",
	Long: `Creativeline assembles retail ad creatives from a few text fields, a logo and
product images, and submits them to the compliance-and-rendering service.
Core concepts:
- Draft: the campaign fields and assets you edit; stored in .creativeline/ of the workspace.
- Attempt: one extract-then-generate round trip with the rendering service.
- Confirmation: when the service detects people or alcohol it asks you to confirm;
  'cl confirm people|drinkaware' records the answer and resubmits.
- Overrides: confirmations stay on for the draft until 'cl draft reset'.
- Gallery: creatives saved to your account, grouped by the batch that produced them.
- Event log: what happened to each draft, view with 'cl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	// Values already in the environment win over the workspace .env file.
	_ = godotenv.Load(envPath())
	viper.SetEnvPrefix("CREATIVELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("base-url", studio.DefaultBaseURL, "rendering service base URL")
	flags.String("token", "", "bearer token for the rendering service")
	flags.Duration("timeout", 2*time.Minute, "bound for one generation attempt")
	flags.String("env", "development", "runtime environment (development prints human-readable logs)")
	flags.String("log-level", "", "log level override (debug, info, warn, error)")
	flags.String("draft", "", "draft id (defaults to "+envDraftKey+" or the only draft)")
	for _, name := range []string{"workspace", "json", "base-url", "token", "timeout", "env", "log-level", "draft"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(confirmCmd())
	rootCmd.AddCommand(prescreenCmd())
	rootCmd.AddCommand(galleryCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func envPath() string {
	return filepath.Join(viper.GetString("workspace"), ".env")
}

func newLogger() zerolog.Logger {
	return logging.WithLevel(logging.New(viper.GetString("env"), os.Stderr), viper.GetString("log-level"))
}

func newClient(log zerolog.Logger) *studio.Client {
	c := studio.New(viper.GetString("base-url"))
	if t := viper.GetDuration("timeout"); t > 0 {
		c.Timeout = t + 5*time.Second
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	c.Log = log
	return c
}

func credentials() session.Provider {
	return session.Static{Token: viper.GetString("token")}
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func withStudio(ctx context.Context, fn func(context.Context, *app.Studio) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		log := newLogger()
		st := app.NewStudio(r, newClient(log), log, viper.GetDuration("timeout"))
		return fn(ctx, st)
	})
}

// currentDraft resolves the draft from an optional positional argument, the
// --draft flag or its environment value, or the only draft in the workspace.
func currentDraft(ctx context.Context, st *app.Studio, args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	return st.ResolveDraft(ctx, strings.TrimSpace(viper.GetString("draft")))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// setEnvValue rewrites one key of a dotenv file, keeping the others.
func setEnvValue(path, key, value string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		values = map[string]string{}
	}
	values[key] = value
	return godotenv.Write(values, path)
}
