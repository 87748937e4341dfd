package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"mail-archive-search/internal/app"
	"mail-archive-search/internal/auth"
	"mail-archive-search/internal/config"
	"mail-archive-search/internal/logger"
	"mail-archive-search/models"
	"mail-archive-search/services"

	"github.com/spf13/cobra"
)

func newImportCmd() *cobra.Command {
	var (
		dryRun        bool
		noAttachments bool
		enrich        bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a .msg, .cfb or .json archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			logger.InitLogger(cfg)
			ctx := cmd.Context()

			a, err := app.New(ctx, cfg, nil, logger.Logger)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := a.Imports(services.DisabledDispatcher{}).Import(ctx, filepath.Base(args[0]), f, services.ImportOptions{
				SaveAttachments: !noAttachments,
				DryRun:          dryRun,
			})
			if err != nil {
				return err
			}

			if enrich && !dryRun && res.Imported > 0 {
				mails, err := a.Repo.ListMails(ctx, models.MailFilter{ImportID: res.ImportID})
				if err != nil {
					return err
				}
				ids := make([]string, len(mails))
				for i, m := range mails {
					ids[i] = m.ID
				}
				stats, err := a.Enrichment.Enrich(ctx, ids)
				if err != nil {
					return fmt.Errorf("enrichment failed: %w", err)
				}
				res.Enrichment = "inline"
				fmt.Fprintf(cmd.ErrOrStderr(), "enriched: %d done, %d unclassified, %d events\n",
					stats.Done, stats.Unclassified, stats.Events)
			}

			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and preview without storing")
	cmd.Flags().BoolVar(&noAttachments, "no-attachments", false, "skip attachment extraction")
	cmd.Flags().BoolVar(&enrich, "enrich", false, "classify, index and extract events before exiting")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		topK     int
		semantic bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			logger.InitLogger(cfg)
			ctx := cmd.Context()

			a, err := app.New(ctx, cfg, nil, logger.Logger)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			var resp *models.SearchResponse
			if semantic {
				resp, err = a.Search.Semantic(ctx, args[0], topK)
			} else {
				resp, err = a.Search.Lexical(ctx, args[0], topK)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 10, "maximum number of results")
	cmd.Flags().BoolVar(&semantic, "semantic", false, "rank by embedding similarity")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		scope   string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("API_TOKEN_SECRET")
			if secret == "" {
				cfg, err := config.LoadConfig()
				if err != nil {
					return err
				}
				secret = cfg.APITokenSecret
			}

			token, claims, err := auth.IssueToken(secret, subject, scope, ttl)
			if err != nil {
				return err
			}

			out := map[string]any{
				"token": token,
				"id":    claims.ID,
				"scope": claims.Scope,
			}
			if claims.ExpiresAt != nil {
				out["expires_at"] = claims.ExpiresAt.Time
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().StringVar(&scope, "scope", auth.ScopeRead, "read or write")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}

func newRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke an API bearer token (requires Redis)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if !cfg.RedisEnabled() {
				return fmt.Errorf("REDIS_URL is required to revoke tokens")
			}
			rdb, err := config.NewRedisClient(cfg)
			if err != nil {
				return err
			}
			defer rdb.Close()

			claims, err := auth.ValidateToken(cmd.Context(), args[0], cfg.APITokenSecret, rdb)
			if err != nil {
				return err
			}
			if err := auth.RevokeToken(cmd.Context(), rdb, claims); err != nil {
				return fmt.Errorf("failed to revoke token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s (%s)\n", claims.ID, claims.Subject)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
