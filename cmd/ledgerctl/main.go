// Command ledgerctl is the operator tool for the payments ledger: migrations, balance
// verification, stuck transaction recovery and account setup.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"payments_core/internal/app"
	"payments_core/internal/config"
	"payments_core/internal/db"
	"payments_core/internal/logger"
	"payments_core/internal/notify"
	"payments_core/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var Version = "dev"

// env holds connections opened on first use so commands like token need no database.
type env struct {
	cfg      *config.Config
	settings *config.Settings
	pool     *pgxpool.Pool
	rdb      *redis.Client
	svc      *app.Services
	asJSON   bool
}

func (e *env) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if e.pool == nil {
		pool, err := db.Open(ctx, e.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		e.pool = pool
	}
	return e.pool, nil
}

func (e *env) services(ctx context.Context) (*app.Services, error) {
	if e.svc != nil {
		return e.svc, nil
	}
	pool, err := e.postgres(ctx)
	if err != nil {
		return nil, err
	}
	e.rdb = redis.NewClient(&redis.Options{Addr: e.cfg.RedisAddr, Password: e.cfg.RedisPassword, DB: e.cfg.RedisDB})
	if err := e.rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	e.svc = app.Build(e.cfg, e.settings, pool, e.rdb, notify.NewRedisPublisher(e.rdb))
	return e.svc, nil
}

func (e *env) close() {
	if e.rdb != nil {
		_ = e.rdb.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

// print writes v as indented JSON with --json, otherwise the text form.
func (e *env) print(cmd *cobra.Command, v any, text string) error {
	if e.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the payments ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			e.cfg = config.Load()
			logger.Init(e.cfg.LogLevel, e.cfg.LogJSON)
			if err := service.InitJWT(e.cfg.JWTSecret); err != nil {
				return err
			}
			settings, err := config.LoadSettings(e.cfg.SettingsFile)
			if err != nil {
				return err
			}
			e.settings = settings
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&e.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		migrateCmd(e),
		verifyCmd(e),
		rebuildCmd(e),
		reconcileCmd(e),
		settleCmd(e),
		commissionsCmd(e),
		userCmd(e),
		referralsCmd(e),
		credentialsCmd(e),
		auditCmd(e),
		statsCmd(e),
		tokenCmd(e),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	e := &env{}
	err := newRootCmd(e).ExecuteContext(ctx)
	e.close()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
