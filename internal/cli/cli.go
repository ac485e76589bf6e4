// Package cli implements callctl, an operator and test tool for a running
// callbridge server.
//
//	callctl dial         connect as a caller, place a call to the owner, print what arrives
//	callctl place-call   ask the server to ring the operator's phone
//	callctl owner-token  mint an operator bearer token from OWNER_JWT_SECRET
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"callbridge/internal/auth"
	"callbridge/internal/config"
	"callbridge/internal/rbac"
	"callbridge/internal/session"
	"callbridge/pkg/logger"

	"github.com/spf13/cobra"
)

func BuildCLI() *cobra.Command {
	var appEnv string

	rootCmd := &cobra.Command{
		Use:           "callctl",
		Short:         "Drive a callbridge server from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&appEnv, "env", envOr("APP_ENV", "local"), "log level profile (local, dev, staging, production)")

	rootCmd.AddCommand(buildDialCommand(&appEnv))
	rootCmd.AddCommand(buildPlaceCallCommand())
	rootCmd.AddCommand(buildOwnerTokenCommand())
	return rootCmd
}

func buildDialCommand(appEnv *string) *cobra.Command {
	var (
		url     string
		ownerID string
		wait    time.Duration
		noCall  bool
	)

	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Connect as a caller and place a call to the owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logger.NewWithWriter(*appEnv, cmd.ErrOrStderr())
			client, err := session.New(session.Config{
				URL:     url,
				OwnerID: ownerID,
				Logger:  log,
				OnStateChange: func(s session.State) {
					fmt.Fprintf(cmd.OutOrStdout(), "state: %s\n", s)
				},
			})
			if err != nil {
				return err
			}
			defer client.Disconnect()

			readyCtx, cancel := context.WithTimeout(ctx, wait)
			defer cancel()
			if err := client.Connect(readyCtx); err != nil {
				return err
			}
			if err := client.WaitReady(readyCtx); err != nil {
				return fmt.Errorf("waiting for identity: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id: %s\n", client.ID())

			if !noCall {
				if err := client.InitiateCall(); err != nil {
					return err
				}
			}

			for {
				select {
				case env, ok := <-client.Incoming():
					if !ok {
						return client.Err()
					}
					raw, _ := json.Marshal(env)
					fmt.Fprintf(cmd.OutOrStdout(), "recv: %s\n", raw)
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8080/ws", "signaling endpoint")
	cmd.Flags().StringVar(&ownerID, "owner", envOr("SIGNAL_OWNER_ID", "owner-id"), "owner connection id to call")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for an identity")
	cmd.Flags().BoolVar(&noCall, "no-call", false, "connect and listen without placing a call")
	return cmd
}

func buildPlaceCallCommand() *cobra.Command {
	var (
		api     string
		label   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "place-call",
		Short: "Ask the server to ring the operator's phone",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := json.Marshal(map[string]string{"userPhoneNumber": label})

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(api, "/")+"/api/voice/call", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var out struct {
				Success bool   `json:"success"`
				CallSid string `json:"callSid"`
				Error   string `json:"error"`
			}
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			if err := json.Unmarshal(raw, &out); err != nil {
				return fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, raw)
			}
			if !out.Success {
				return fmt.Errorf("place call failed (%d): %s", resp.StatusCode, out.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.CallSid)
			return nil
		},
	}
	cmd.Flags().StringVar(&api, "api", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&label, "label", "", "visitor phone number or name to announce")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

func buildOwnerTokenCommand() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "owner-token",
		Short: "Mint an operator bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !rbac.IsKnownRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			m, err := auth.NewManager(config.OwnerAuthConfig{
				JWTSecret: os.Getenv("OWNER_JWT_SECRET"),
				JWTIssuer: os.Getenv("OWNER_JWT_ISSUER"),
				TokenTTL:  ttl,
			})
			if err != nil {
				return err
			}
			tok, err := m.Issue(time.Now(), subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringVar(&role, "role", rbac.RoleOwner, "owner or observer")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

// Execute runs the CLI and maps errors to an exit code.
func Execute(ctx context.Context) int {
	if err := BuildCLI().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		return 1
	}
	return 0
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
