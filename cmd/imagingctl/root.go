package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/imagingdesk/internal/server/config"
)

type options struct {
	configPath string
	dsn        string
	backend    string
	secret     string
}

// load builds the effective configuration: defaults, then the JSON file,
// then explicit command-line overrides.
func (o *options) load() (*config.Config, error) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	if o.configPath != "" {
		if err := config.ApplyFile(cfg, o.configPath); err != nil {
			return nil, err
		}
	}
	if o.dsn != "" {
		cfg.DatabaseDSN = o.dsn
	}
	if o.backend != "" {
		cfg.IndexBackend = o.backend
	}
	if o.secret != "" {
		cfg.SecretKey = o.secret
	}
	return cfg, nil
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "imagingctl",
		Short:         "Operator tool for the imagingdesk server",
		Long:          "Migrate the storage index, inspect key normalization and resolution, and mint development tokens.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "path to JSON config file")
	pf.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (overrides config)")
	pf.StringVar(&opts.backend, "backend", "", "storage index backend: postgres or dynamodb (overrides config)")
	pf.StringVar(&opts.secret, "secret", "", "JWT HMAC secret (overrides config)")

	rootCmd.AddCommand(
		newMigrateCmd(opts),
		newNormalizeCmd(),
		newObjectKeyCmd(),
		newResolveCmd(opts),
		newDevTokenCmd(opts),
	)
	return rootCmd
}
