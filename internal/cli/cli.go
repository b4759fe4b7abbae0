package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/denismitr/mortar"
	"github.com/denismitr/mortar/internal/config"
	"github.com/denismitr/mortar/internal/discovery"
	"github.com/denismitr/mortar/report"
	"github.com/logrusorgru/aurora/v3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Options are the global flags shared by every command
type Options struct {
	ConfigPath string
	Connection string
	Directory  string
	Dry        bool
	NoColor    bool
	Debug      bool
}

// NewRootCommand creates the `mortar` command with its sub-commands
func NewRootCommand() *cobra.Command {
	o := &Options{}

	cmd := &cobra.Command{
		Use:           "mortar",
		Short:         "database migrations runner",
		Long:          "mortar applies and reverts database migrations in batches and keeps track of them in a ledger table.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	o.bindGlobalFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newInitCommand(o),
		newMakeCommand(o),
		newMigrateCommand(o),
		newRollbackCommand(o),
		newRollbackAllCommand(o),
		newResetCommand(o),
		newRefreshCommand(o),
		newStatusCommand(o),
		newUnlockCommand(o),
	)

	return cmd
}

func (o *Options) bindGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigPath, "config", "c", config.DefaultFile, "path to the mortar configuration file")
	fs.StringVar(&o.Connection, "connection", "", "connection to run against, the configured default otherwise")
	fs.StringVarP(&o.Directory, "directory", "d", "", "migrations directory, overrides the configuration")
	fs.BoolVar(&o.Dry, "dry", false, "resolve and report migrations without executing their statements")
	fs.BoolVar(&o.NoColor, "no-color", false, "disable colored output")
	fs.BoolVar(&o.Debug, "debug", false, "log executed sql and debug traces to stderr")
}

func bindShowFlag(fs *pflag.FlagSet, show *bool) {
	fs.BoolVarP(show, "show", "s", false, "show the compiled sql instead of running it")
}

// Println writes a prefixed status line
func (o *Options) Println(w io.Writer, ok bool, msg string) {
	au := aurora.NewAurora(!o.NoColor)

	prefix := au.Green("mortar:")
	if !ok {
		prefix = au.Red("mortar:")
	}

	_, _ = fmt.Fprintln(w, prefix, msg)
}

func (o *Options) migrator(cmd *cobra.Command) (*mortar.Migrator, mortar.CloserFunc, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	var opts []mortar.OptionFunc
	if o.Debug {
		p := log.New(cmd.ErrOrStderr(), "", 0)
		if o.NoColor {
			opts = append(opts, mortar.UseLogger(p, true, true))
		} else {
			opts = append(opts, mortar.UseColorLogger(p, true, true))
		}
	}

	connection := cfg.Default
	if o.Connection != "" {
		connection = o.Connection
	}

	opts = append(opts,
		mortar.UseConnectionDetails(cfg.Connections),
		mortar.OnConnection(connection),
		mortar.UseDirectory(o.directory(cfg)),
		mortar.WithMigrationsTable(cfg.Table),
		mortar.UseReporter(report.NewConsole(cmd.OutOrStdout(), !o.NoColor)),
	)

	if cfg.Dry || o.Dry {
		opts = append(opts, mortar.WithDry())
	}

	if cfg.LockDisabled {
		opts = append(opts, mortar.WithNoLock())
	} else {
		opts = append(opts, mortar.WithLock(cfg.LockKey, cfg.LockTimeout), mortar.WithLockStaleAfter(cfg.LockStale))
	}

	return mortar.NewMigrator(opts...)
}

func (o *Options) directory(cfg *config.Config) string {
	if o.Directory != "" {
		return o.Directory
	}

	if cfg != nil {
		return cfg.Directory
	}

	return discovery.DefaultDirectory
}

// run executes f against a freshly created migrator and closes it afterwards
func (o *Options) run(cmd *cobra.Command, f func(ctx context.Context, m *mortar.Migrator) error) (err error) {
	m, closer, err := o.migrator(cmd)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := closer(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return f(cmd.Context(), m)
}

func newInitCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file stub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.InitCfg(o.ConfigPath); err != nil {
				return err
			}

			o.Println(cmd.OutOrStdout(), true, "configuration written to "+o.ConfigPath)
			return nil
		},
	}
}

func newMakeCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "make <name>",
		Short: "Create a new SQL migration in the migrations directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			if o.Directory == "" && config.FileExists(o.ConfigPath) {
				loaded, err := config.Load(o.ConfigPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			dir := discovery.NewLocalDirectory(o.directory(cfg), nil)
			filename, err := dir.Create(time.Now(), args[0])
			if err != nil {
				return err
			}

			o.Println(cmd.OutOrStdout(), true, "created "+filename)
			return nil
		},
	}
}

func newMigrateCommand(o *Options) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run every pending migration in a new batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, m *mortar.Migrator) error {
				migrated, err := m.Migrate(ctx, mortar.CreateConfigurators(show)...)
				if err != nil {
					return err
				}

				if len(migrated) > 0 {
					o.Println(cmd.OutOrStdout(), true, fmt.Sprintf("%d migration(s) done", len(migrated)))
				}
				return nil
			})
		},
	}

	bindShowFlag(cmd.Flags(), &show)

	return cmd
}

func newRollbackCommand(o *Options) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Revert the most recent batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, m *mortar.Migrator) error {
				rolledBack, err := m.Rollback(ctx, mortar.CreateConfigurators(show)...)
				if err != nil {
					return err
				}

				if len(rolledBack) > 0 {
					o.Println(cmd.OutOrStdout(), true, fmt.Sprintf("%d migration(s) rolled back", len(rolledBack)))
				}
				return nil
			})
		},
	}

	bindShowFlag(cmd.Flags(), &show)

	return cmd
}

func newRollbackAllCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback-all",
		Short: "Revert every recorded migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, m *mortar.Migrator) error {
				rolledBack, err := m.RollbackAll(ctx)
				if err != nil {
					return err
				}

				o.Println(cmd.OutOrStdout(), true, fmt.Sprintf("%d migration(s) rolled back", len(rolledBack)))
				return nil
			})
		},
	}
}

func newResetCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Revert every recorded migration one by one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, m *mortar.Migrator) error {
				rolledBack, err := m.Reset(ctx)
				if err != nil {
					return err
				}

				o.Println(cmd.OutOrStdout(), true, fmt.Sprintf("%d migration(s) reset", len(rolledBack)))
				return nil
			})
		},
	}
}

func newRefreshCommand(o *Options) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reset the database and migrate everything again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, m *mortar.Migrator) error {
				_, migrated, err := m.Refresh(ctx, mortar.CreateConfigurators(show)...)
				if err != nil {
					return err
				}

				o.Println(cmd.OutOrStdout(), true, fmt.Sprintf("%d migration(s) refreshed", len(migrated)))
				return nil
			})
		},
	}

	bindShowFlag(cmd.Flags(), &show)

	return cmd
}

func newStatusCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List discovered migrations and whether they ran",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, m *mortar.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}

				return printStatus(cmd.OutOrStdout(), statuses)
			})
		},
	}
}

func newUnlockCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Release a migrations lock left behind by a crashed run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, m *mortar.Migrator) error {
				if err := m.ForceUnlock(ctx); err != nil {
					return err
				}

				o.Println(cmd.OutOrStdout(), true, "migrations lock released")
				return nil
			})
		},
	}
}

func printStatus(w io.Writer, statuses []mortar.Status) error {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		ran, batch := "No", ""
		if s.Ran {
			ran, batch = "Yes", fmt.Sprint(s.Batch)
		}

		rows = append(rows, []string{ran, s.Migration, batch})
	}

	t := &report.TextTable{}
	t.SetHeaderRow([]string{"Ran?", "Migration", "Batch"})
	t.SetRows(rows)

	if err := t.Render(w); err != nil {
		return errors.Wrap(err, "could not print status")
	}

	return nil
}
