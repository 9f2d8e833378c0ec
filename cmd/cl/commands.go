package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"choreline/internal/app"
	"choreline/internal/domain"
	"choreline/internal/logging"
	"choreline/internal/resolver"
	"choreline/internal/schedule"
	"choreline/internal/server"
)

func claimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <chore> [assignee]",
		Short: "Claim a chore as done",
		Long:  "Claims the chore for the given assignee, or for --actor-id when none is given.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := viper.GetString("actor-id")
			assignee := actor
			if len(args) == 2 {
				assignee = args[1]
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Claim(ctx, args[0], assignee, actor)
				if err != nil {
					return err
				}
				return printResolution(res)
			})
		},
	}
}

func approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <chore> <assignee>",
		Short: "Approve a pending claim",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Approve(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.AlreadyApproved {
					fmt.Printf("%s was already approved for %s\n", args[0], args[1])
					return nil
				}
				return printResolution(res.Resolution)
			})
		},
	}
}

func rejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <chore> <assignee>",
		Short: "Reject a pending claim",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Reject(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printResolution(res)
			})
		},
	}
}

func rotationCmd() *cobra.Command {
	rot := &cobra.Command{
		Use:   "rotation",
		Short: "Control whose turn it is",
		Long:  "Turn management for chores with a rotation mode. 'open' lets anyone claim until the next approval.",
	}
	rot.AddCommand(&cobra.Command{
		Use:   "turn <chore> <assignee>",
		Short: "Hand the turn to an assignee",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rs, err := a.Engine.SetTurn(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printRotation(rs)
			})
		},
	})
	rot.AddCommand(&cobra.Command{
		Use:   "reset <chore>",
		Short: "Give the turn back to the first assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rs, err := a.Engine.ResetTurn(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printRotation(rs)
			})
		},
	})
	rot.AddCommand(&cobra.Command{
		Use:   "open <chore>",
		Short: "Let any assignee claim this cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rs, err := a.Engine.OpenCycle(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printRotation(rs)
			})
		},
	})
	return rot
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noScheduler, noSync, devLogin, actorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and the scanner schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			workspace := viper.GetString("workspace")
			// one-shot commands default to warn; the server follows the config
			level := ""
			if cmd.Flags().Changed("log-level") {
				level = viper.GetString("log-level")
			}
			a, err := app.Open(ctx, workspace, app.Options{LogLevel: level})
			if err != nil {
				return err
			}
			defer a.Close()
			logger := logging.Component(a.Logger, "serve")

			if !noSync {
				res, err := a.SyncChores(ctx, a.Config.Chores, "config")
				if err != nil {
					return err
				}
				logger.Info().Int("created", len(res.Created)).Int("updated", len(res.Updated)).Int("unchanged", len(res.Unchanged)).Msg("chores synced from config")
			}

			authCfg := server.AuthConfig{
				JWTSecret:        viper.GetString("jwt-secret"),
				AllowActorHeader: actorHeader,
				DevLogin:         devLogin,
				Logger:           logging.Component(a.Logger, "auth"),
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CHORELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Scanner:  a.Scanner,
				Balances: a.Balances,
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}

			if !noScheduler {
				sched, err := schedule.New(a.Scanner, a.Config.Scanner, a.Config.Location(), logging.Component(a.Logger, "schedule"))
				if err != nil {
					return err
				}
				sched.Start(ctx)
				defer func() { <-sched.Stop().Done() }()
			}

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Choreline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run scanner sweeps on a schedule")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "do not import chores from the config on start")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login for minting tokens")
	cmd.Flags().BoolVar(&actorHeader, "allow-actor-header", false, "accept X-Actor-Id without a token (no permissions)")
	return cmd
}

func printResolution(res resolver.Resolution) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	line := fmt.Sprintf("%s: %s", res.AssigneeID, res.State)
	if res.LockReason != "" {
		line += fmt.Sprintf(" (%s)", res.LockReason)
	}
	if res.InheritedFrom != "" {
		line += " via " + res.InheritedFrom
	}
	fmt.Println(line)
	return nil
}

func printRotation(rs domain.RotationState) error {
	if viper.GetBool("json") {
		return printJSON(rs)
	}
	if rs.Override {
		fmt.Printf("%s: turn=%s, open to everyone\n", rs.ChoreID, rs.Holder)
		return nil
	}
	fmt.Printf("%s: turn=%s\n", rs.ChoreID, rs.Holder)
	return nil
}
