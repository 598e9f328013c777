package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/imagingdesk/internal/server/access"
	"github.com/dmitrijs2005/imagingdesk/internal/server/auth"
	"github.com/dmitrijs2005/imagingdesk/internal/server/filekeys"
	"github.com/dmitrijs2005/imagingdesk/internal/server/objectkey"
	"github.com/dmitrijs2005/imagingdesk/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/imagingdesk/internal/server/resolver"
)

// openIndex is a seam for tests.
var openIndex = repomanager.New

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply storage index schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			m, closeFn, err := openIndex(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := m.RunMigrations(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "storage index (%s) is up to date\n", cfg.IndexBackend)
			return nil
		},
	}
}

// readPayload returns the first argument, or stdin when there is none.
func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) > 0 {
		return []byte(args[0]), nil
	}
	return io.ReadAll(cmd.InOrStdin())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [json]",
		Short: "Print the canonical keys for a fileKeys payload",
		Long:  "Reads a JSON fileKeys value from the argument or stdin and prints the canonical keys it normalizes to.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(cmd, args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), filekeys.Normalize(raw))
		},
	}
}

func newObjectKeyCmd() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "objectkey <file-name>",
		Short: "Print the bucket-relative object key for a file name and optional prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			row := objectkey.Row{FileName: args[0]}
			if cmd.Flags().Changed("prefix") {
				row.BucketPrefix = &prefix
			}
			fmt.Fprintln(cmd.OutOrStdout(), objectkey.Build(row))
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "bucket prefix (bucket_name column)")
	return cmd
}

func newResolveCmd(opts *options) *cobra.Command {
	var (
		userID string
		role   string
	)

	cmd := &cobra.Command{
		Use:   "resolve [json]",
		Short: "Resolve a fileKeys payload against the storage index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(cmd, args)
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			m, closeFn, err := openIndex(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			policy := access.NewPolicy(cfg.ElevatedRoles, cfg.S3KeyPrefix)
			r := resolver.New(m.Uploads(), policy, nil)

			keys, err := r.Resolve(ctx, filekeys.Normalize(raw), access.Identity{UserID: userID, Role: role})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), keys)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "requester user id")
	cmd.Flags().StringVar(&role, "role", access.RoleAdmin, "requester role")
	return cmd
}

func newDevTokenCmd(opts *options) *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dev-token",
		Short: "Mint a bearer token for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			tok, err := auth.GenerateToken(access.Identity{UserID: userID, Role: role}, []byte(cfg.SecretKey), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (uid claim)")
	cmd.Flags().StringVar(&role, "role", access.RoleClient, "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
