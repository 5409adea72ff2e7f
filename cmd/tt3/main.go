package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/fang"
	charmLog "github.com/charmbracelet/log"
	"github.com/hylla/tt3/internal/adapters/storage"
	"github.com/hylla/tt3/internal/app"
	"github.com/hylla/tt3/internal/config"
	"github.com/hylla/tt3/internal/domain"
	"github.com/hylla/tt3/internal/platform"
	"github.com/spf13/cobra"
)

// version is the build version reported by fang.
var version = "dev"

func main() {
	ctx := context.Background()
	root := newRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := fang.Execute(ctx, root, fang.WithVersion(version)); err != nil {
		os.Exit(1)
	}
}

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dbType     string
	dbPath     string
	appName    string
	devMode    bool
	readOnly   bool
}

// credentialOptions holds the login flags of commands acting as a principal.
type credentialOptions struct {
	login    string
	password string
}

func (o *credentialOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.login, "login", "", "account login")
	cmd.Flags().StringVar(&o.password, "password", "", "account password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("login")
}

// credentials returns the flags as credentials, reading the password from
// stdin when the flag was left empty.
func (o *credentialOptions) credentials(stdin io.Reader) (domain.Credentials, error) {
	password := o.password
	if password == "" {
		line, err := readLine(stdin)
		if err != nil {
			return domain.Credentials{}, fmt.Errorf("read password: %w", err)
		}
		password = line
	}
	return domain.NewCredentials(o.login, password), nil
}

// newRootCommand builds the tt3 command tree.
func newRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	opts := &globalOptions{appName: platform.DefaultAppName, devMode: version == "dev"}
	if envDev, ok := parseBoolEnv("TT3_DEV_MODE"); ok {
		opts.devMode = envDev
	}
	if envApp := strings.TrimSpace(os.Getenv("TT3_APP_NAME")); envApp != "" {
		opts.appName = envApp
	}

	cmd := &cobra.Command{
		Use:           "tt3",
		Short:         "tt3 workspace administration",
		Long:          "Create and inspect tt3 activity-tracking workspaces stored in SQLite or XML.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config TOML")
	cmd.PersistentFlags().StringVar(&opts.dbType, "type", "", "workspace type ("+strings.Join(storage.Types(), "|")+")")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "path to the workspace file")
	cmd.PersistentFlags().StringVar(&opts.appName, "app", opts.appName, "application name for config/data path resolution")
	cmd.PersistentFlags().BoolVar(&opts.devMode, "dev", opts.devMode, "use dev mode paths (<app>-dev)")
	cmd.PersistentFlags().BoolVar(&opts.readOnly, "read-only", false, "open the workspace read-only")

	cmd.AddCommand(newPathsCommand(opts))
	cmd.AddCommand(newInitCommand(opts))
	cmd.AddCommand(newLoginCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	return cmd
}

func newPathsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the resolved config and workspace paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := opts.paths()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "sqlite: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(out, "xml: %s\n", paths.XMLPath)
			return nil
		},
	}
}

func newInitCommand(opts *globalOptions) *cobra.Command {
	var (
		creds    credentialOptions
		realName string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a workspace and its first administrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			admin, err := creds.credentials(cmd.InOrStdin())
			if err != nil {
				return err
			}

			rt.logger.Info("creating workspace", "type", rt.storage.Type, "address", rt.storage.Address)
			ws, err := app.Create(cmd.Context(), rt.storage, rt.workspace, app.AdministratorInput{
				RealName: realName,
				Login:    admin.Login,
				Password: admin.Password,
			})
			if err != nil {
				rt.logger.Error("workspace creation failed", "address", rt.storage.Address, "err", err)
				return fmt.Errorf("create workspace: %w", err)
			}
			if err := ws.Close(); err != nil {
				return fmt.Errorf("close workspace: %w", err)
			}
			rt.logger.Info("workspace created", "address", rt.storage.Address, "administrator", admin.Login)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s workspace %s\n", rt.storage.Type, rt.storage.Address)
			return nil
		},
	}
	creds.bind(cmd)
	cmd.Flags().StringVar(&realName, "name", "Administrator", "real name of the first administrator")
	return cmd
}

func newLoginCommand(opts *globalOptions) *cobra.Command {
	var creds credentialOptions
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check credentials and print the account capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withWorkspace(cmd, &creds, func(ws *app.Workspace, c domain.Credentials) error {
				account, err := ws.Login(c)
				if err != nil {
					return err
				}
				caps, err := ws.Capabilities(c)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "account: %s (#%s)\n", c.Login, account.OID())
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "capabilities: %s\n", caps)
				return nil
			})
		},
	}
	creds.bind(cmd)
	return cmd
}

func newStatsCommand(opts *globalOptions) *cobra.Command {
	var creds credentialOptions
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print object counts visible to an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withWorkspace(cmd, &creds, func(ws *app.Workspace, c domain.Credentials) error {
				total, err := ws.ObjectCount(c)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "objects: %d\n", total)
				rows := []struct {
					label string
					count func() (int, error)
				}{
					{"users", countOf(ws.Users, c)},
					{"accounts", countOf(ws.Accounts, c)},
					{"activity_types", countOf(ws.ActivityTypes, c)},
					{"public_activities", countOf(ws.PublicActivities, c)},
					{"public_tasks", countOf(ws.PublicTasks, c)},
					{"projects", countOf(ws.Projects, c)},
					{"work_streams", countOf(ws.WorkStreams, c)},
					{"beneficiaries", countOf(ws.Beneficiaries, c)},
				}
				for _, row := range rows {
					n, err := row.count()
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(out, "%s: %d\n", row.label, n)
				}
				return nil
			})
		},
	}
	creds.bind(cmd)
	return cmd
}

func countOf[T any](list func(domain.Credentials) ([]T, error), creds domain.Credentials) func() (int, error) {
	return func() (int, error) {
		items, err := list(creds)
		return len(items), err
	}
}

// invocation is the resolved configuration of one command run.
type invocation struct {
	logger    *charmLog.Logger
	storage   storage.Options
	workspace app.Options
}

func (o *globalOptions) paths() (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: o.appName,
		DevMode: o.devMode,
	})
}

// resolve resolves paths, loads config and configures the logger.
func (o *globalOptions) resolve(cmd *cobra.Command) (*invocation, error) {
	paths, err := o.paths()
	if err != nil {
		return nil, err
	}
	configPath := o.configPath
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("TT3_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}

	defaultCfg := config.Default(paths.DBPath)
	cfg, err := config.Load(configPath, defaultCfg)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if typ := strings.ToLower(strings.TrimSpace(o.dbType)); typ != "" {
		if cfg.Database.Path == defaultCfg.Database.Path {
			cfg.Database.Path = paths.WorkspacePath(typ)
		}
		cfg.Database.Type = typ
	}
	if strings.TrimSpace(o.dbPath) != "" {
		cfg.Database.Path = o.dbPath
	}
	if o.readOnly {
		cfg.Database.ReadOnly = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := newRuntimeLogger(cmd.ErrOrStderr(), o.appName, cfg.LogLevel())
	logger.Debug("startup configuration resolved", "app", o.appName, "dev_mode", o.devMode, "command", cmd.Name())
	logger.Debug("configuration loaded", "config_path", configPath, "db_type", cfg.Database.Type, "db_path", cfg.Database.Path)

	return &invocation{
		logger: logger,
		storage: storage.Options{
			Type:                cfg.Database.Type,
			Address:             cfg.Database.Path,
			ReadOnly:            cfg.Database.ReadOnly,
			Paranoid:            cfg.Database.Paranoid,
			BcryptCost:          cfg.Security.BcryptCost,
			LockRefreshInterval: time.Duration(cfg.XML.LockRefreshInterval),
			StaleLockAge:        time.Duration(cfg.XML.StaleLockAge),
			Logger:              logger,
		},
		workspace: app.Options{
			CredentialsCacheSize: cfg.Security.CredentialsCacheSize,
			Logger:               logger,
		},
	}, nil
}

// withWorkspace opens the configured workspace, runs fn as the principal
// named by creds and closes the workspace again.
func (o *globalOptions) withWorkspace(cmd *cobra.Command, creds *credentialOptions, fn func(*app.Workspace, domain.Credentials) error) error {
	rt, err := o.resolve(cmd)
	if err != nil {
		return err
	}
	c, err := creds.credentials(cmd.InOrStdin())
	if err != nil {
		return err
	}

	rt.logger.Info("opening workspace", "type", rt.storage.Type, "address", rt.storage.Address)
	ws, err := app.Open(cmd.Context(), rt.storage, rt.workspace)
	if err != nil {
		rt.logger.Error("workspace open failed", "address", rt.storage.Address, "err", err)
		return fmt.Errorf("open workspace: %w", err)
	}
	defer func() {
		if closeErr := ws.Close(); closeErr != nil {
			rt.logger.Warn("workspace close failed", "address", rt.storage.Address, "err", closeErr)
		}
	}()

	rt.logger.Info("command flow start", "command", cmd.Name())
	if err := fn(ws, c); err != nil {
		rt.logger.Error("command flow failed", "command", cmd.Name(), "kind", app.KindOf(err), "err", err)
		return err
	}
	rt.logger.Info("command flow complete", "command", cmd.Name())
	return nil
}

// newRuntimeLogger configures the styled console logger.
func newRuntimeLogger(stderr io.Writer, appName string, level charmLog.Level) *charmLog.Logger {
	if stderr == nil {
		stderr = io.Discard
	}
	return charmLog.NewWithOptions(stderr, charmLog.Options{
		Level:           level,
		Prefix:          appName,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       charmLog.TextFormatter,
	})
}

// readLine reads one line without its terminator.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" && errors.Is(err, io.EOF) {
		return "", io.ErrUnexpectedEOF
	}
	return line, nil
}

// parseBoolEnv parses boolean environment values.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
