package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"helpdesk/config"
	"helpdesk/internal/api"
	"helpdesk/internal/status"
	"helpdesk/internal/tokenstore"
	"helpdesk/services"
	"helpdesk/utils"
)

// app holds what every command needs once the configuration is loaded.
type app struct {
	cfg *config.Config
	log *slog.Logger
	out io.Writer

	redis   *redis.Client
	tokens  tokenstore.Store
	client  *api.Client
	session *services.SessionStore
	tickets *services.TicketStore
	audit   *services.AuditReader
}

func (a *app) open(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	a.cfg, a.log, a.out = cfg, logger, out

	if cfg.Redis.URL != "" {
		rdb, err := utils.NewRedisClient(ctx, cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			if cfg.Token.Store == "redis" {
				return fmt.Errorf("redis: %w", err)
			}
			// the login throttle then counts in process
			logger.Warn("redis unavailable", "error", err)
		}
		a.redis = rdb
	}

	switch cfg.Token.Store {
	case "memory":
		a.tokens = tokenstore.NewMemory()
	case "redis":
		a.tokens = tokenstore.NewRedis(a.redis, cfg.Redis.KeyPrefix, cfg.Token.TTL)
	default:
		path := cfg.Token.File
		if path == "" {
			path = tokenstore.DefaultPath()
		}
		a.tokens = tokenstore.NewFile(path, cfg.Token.Passphrase)
	}

	a.client = api.NewClient(api.ClientConfig{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout}, api.WithLogger(logger))
	a.session = services.NewSessionStore(a.client, a.tokens, logger)
	a.tickets = services.NewTicketStore(a.client, a.session, logger)
	a.audit = services.NewAuditReader(a.client, a.session, logger)
	return nil
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
}

// requireSession restores the persisted session and fails when nobody is signed in.
func (a *app) requireSession(ctx context.Context) error {
	if err := a.session.Restore(ctx); err != nil {
		return err
	}
	if !a.session.Snapshot().Authenticated() {
		return status.New("session", status.KindSession, status.ErrNoSession)
	}
	return nil
}

// NewRootCommand builds the helpdesk command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	var (
		configFile string
		logLevel   string
	)

	root := &cobra.Command{
		Use:           "helpdesk",
		Short:         "Help desk client: web console and command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return a.open(cmd.Context(), cfg, newLogger(cfg.LogLevel, cmd.ErrOrStderr()), cmd.OutOrStdout())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "configuration file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newServeCommand(a),
		newLoginCommand(a),
		newLogoutCommand(a),
		newWhoamiCommand(a),
		newRegisterCommand(a),
		newTicketsCommand(a),
		newCommentsCommand(a),
		newAuditCommand(a),
	)
	return root
}

// Execute runs the command line and turns store errors into something a person can act on.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return explain(root.ExecuteContext(ctx))
}

func explain(err error) error {
	if err == nil {
		return nil
	}
	var se *status.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Kind {
	case status.KindAuth:
		return errors.New("sign-in failed: check your credentials")
	case status.KindSession:
		if errors.Is(err, status.ErrNoSession) {
			return errors.New("not signed in: run `helpdesk login`")
		}
		return errors.New("your session has ended: run `helpdesk login`")
	case status.KindValidation:
		return errors.New(status.DetailOf(err))
	case status.KindForbidden:
		return errors.New("not allowed: this needs an administrator account")
	case status.KindNotFound:
		return errors.New("not found")
	case status.KindNetwork:
		return fmt.Errorf("help desk unreachable: %s", status.DetailOf(err))
	}
	return err
}
