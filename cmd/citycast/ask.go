package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ashureev/citycast/internal/app"
	"github.com/ashureev/citycast/internal/config"
	"github.com/ashureev/citycast/internal/identity"
	"github.com/ashureev/citycast/internal/pipeline"
	"github.com/ashureev/citycast/internal/session"
	"github.com/spf13/cobra"
)

var (
	askUserID    string
	askSessionID string
	askProgress  bool
)

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Run the forecast pipeline once for a travel query",
	Example: `  citycast ask "I have to go from Hoodi to Silk Board"
  citycast ask --progress --session-id morning "Koramangala to MG Road"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		query := strings.Join(args, " ")

		userID, sessionID, err := identity.Resolve(askUserID, askSessionID)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		deps, err := app.New(ctx, cfg, slog.Default())
		if err != nil {
			return err
		}
		defer deps.Close()

		key := session.Key{AppName: cfg.AppName, UserID: userID, SessionID: sessionID}
		if _, _, err := deps.Sessions.GetOrCreate(ctx, key); err != nil {
			return err
		}

		var observe pipeline.Observer
		if askProgress {
			observe = func(ev pipeline.StageEvent) {
				if ev.Status == pipeline.StatusStarted {
					fmt.Fprintf(os.Stderr, "→ %s\n", ev.Stage)
					return
				}
				fmt.Fprintf(os.Stderr, "  %s %s (%dms)\n", ev.Stage, ev.Status, ev.DurationMS)
			}
		}

		out, err := deps.Pipeline.Run(ctx, key, query, observe)
		if err != nil {
			return fmt.Errorf("forecast failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askUserID, "user-id", identity.DefaultUserID, "user id of the session")
	askCmd.Flags().StringVar(&askSessionID, "session-id", identity.DefaultSessionID, "session id")
	askCmd.Flags().BoolVar(&askProgress, "progress", false, "print stage progress to stderr")
}
