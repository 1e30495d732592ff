// Command jobradar-admin is the operational CLI for the jobradar ingestion
// service: migrations, development seeding, and seen-key cache maintenance.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobradar/ingest-api/config"
	"github.com/jobradar/ingest-api/internal/bootstrap"
	"github.com/jobradar/ingest-api/internal/devseed"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	seenKeyPrefix           = "seen:"
)

func main() {
	logger := bootstrap.InitLogger(false)

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrations,
		},
		"db-seed": {
			name:        "db-seed",
			description: "Run database migrations and seed development sources and slices",
			run:         runDBSeed,
		},
		"db-reset": {
			name:        "db-reset",
			description: "Drop the database schema, run migrations, and optionally seed data",
			run:         runDBReset,
		},
		"list-seen-keys": {
			name:        "list-seen-keys",
			description: "Inspect seen-key cache entries in Redis",
			run:         runListSeenKeys,
		},
		"clear-seen-keys": {
			name:        "clear-seen-keys",
			description: "Clear the Redis seen-key cache and optionally durable dedup records",
			run:         runClearSeenKeys,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: jobradar-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(os.Stdout, "  %-18s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
}

type dbSeedOptions struct {
	Timeout     time.Duration
	AllowRemote bool
}

type dbResetOptions struct {
	Timeout     time.Duration
	Yes         bool
	Seed        bool
	AllowRemote bool
}

type listSeenOptions struct {
	Source string
	Limit  int
}

type clearSeenOptions struct {
	Source      string
	WithRecords bool
	DryRun      bool
	Yes         bool
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	opts := migrateOptions{}
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Overall timeout for the migration run")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("parse migrate flags: %w", err)
	}
	return opts, nil
}

func parseDBSeedFlags(args []string) (dbSeedOptions, error) {
	opts := dbSeedOptions{}
	fs := flag.NewFlagSet("db-seed", flag.ContinueOnError)
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Overall timeout for migrations and seeding")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Allow running against a non-local database host")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("parse db-seed flags: %w", err)
	}
	return opts, nil
}

func parseDBResetFlags(args []string) (dbResetOptions, error) {
	opts := dbResetOptions{}
	fs := flag.NewFlagSet("db-reset", flag.ContinueOnError)
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Overall timeout for the reset")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")
	fs.BoolVar(&opts.Seed, "seed", true, "Seed development data after the reset")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Allow running against a non-local database host")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("parse db-reset flags: %w", err)
	}
	return opts, nil
}

func parseListSeenFlags(args []string) (listSeenOptions, error) {
	opts := listSeenOptions{}
	fs := flag.NewFlagSet("list-seen-keys", flag.ContinueOnError)
	fs.StringVar(&opts.Source, "source", "", "Restrict to keys belonging to one source id")
	fs.IntVar(&opts.Limit, "limit", 100, "Maximum number of keys to print")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("parse list-seen-keys flags: %w", err)
	}
	if opts.Limit <= 0 {
		return opts, errors.New("limit must be > 0")
	}
	return opts, nil
}

func parseClearSeenFlags(args []string) (clearSeenOptions, error) {
	opts := clearSeenOptions{}
	fs := flag.NewFlagSet("clear-seen-keys", flag.ContinueOnError)
	fs.StringVar(&opts.Source, "source", "", "Restrict to keys belonging to one source id")
	fs.BoolVar(&opts.WithRecords, "with-records", false, "Also delete durable dedup records from Postgres")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Report what would be deleted without deleting")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("parse clear-seen-keys flags: %w", err)
	}
	return opts, nil
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func runDBSeed(cmdCtx *commandContext, args []string) error {
	opts, err := parseDBSeedFlags(args)
	if err != nil {
		return err
	}

	if guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote, "seed development data on the configured database"); guardErr != nil {
		return guardErr
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("ensuring database migrations are current")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}

		cmdCtx.Logger.Info("seeding development data")
		if seedErr := devseed.Run(ctx, devseed.NewServices(db), cmdCtx.Logger); seedErr != nil {
			return fmt.Errorf("seed data: %w", seedErr)
		}

		cmdCtx.Logger.Info("database seeding completed successfully")
		return nil
	})
}

func runDBReset(cmdCtx *commandContext, args []string) error {
	opts, err := parseDBResetFlags(args)
	if err != nil {
		return err
	}

	if guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote, "drop and recreate the public schema"); guardErr != nil {
		return guardErr
	}

	target := fmt.Sprintf(
		"database %q on %s:%d",
		cmdCtx.Config.Postgres.Name,
		cmdCtx.Config.Postgres.Host,
		cmdCtx.Config.Postgres.Port,
	)
	if confirmErr := confirmAction(opts.Yes, "reset database schema", target); confirmErr != nil {
		return confirmErr
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("dropping public schema", "database", cmdCtx.Config.Postgres.Name)
		if resetErr := resetSchema(ctx, cmdCtx, db); resetErr != nil {
			return resetErr
		}

		cmdCtx.Logger.Info("re-running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}

		if opts.Seed {
			cmdCtx.Logger.Info("seeding development data after reset")
			if seedErr := devseed.Run(ctx, devseed.NewServices(db), cmdCtx.Logger); seedErr != nil {
				return fmt.Errorf("seed data: %w", seedErr)
			}
		}

		cmdCtx.Logger.Info("database reset completed successfully")
		return nil
	})
}

func runListSeenKeys(cmdCtx *commandContext, args []string) error {
	opts, err := parseListSeenFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 2*time.Minute)
	defer cancel()

	redisClient, err := connectRedis(cmdCtx)
	if err != nil {
		return err
	}
	defer closeQuietly(cmdCtx.Logger, "redis", redisClient)

	keys, err := scanSeenKeys(ctx, redisClient, opts.Source, opts.Limit)
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		return writeln(os.Stdout, "No seen-key cache entries found.")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if _, werr := fmt.Fprintln(w, "KEY\tTTL"); werr != nil {
		return fmt.Errorf("print header: %w", werr)
	}
	for _, key := range keys {
		ttl, ttlErr := redisClient.TTL(ctx, key).Result()
		ttlText := "-"
		if ttlErr == nil && ttl > 0 {
			ttlText = ttl.Truncate(time.Second).String()
		}
		if _, werr := fmt.Fprintf(w, "%s\t%s\n", key, ttlText); werr != nil {
			return fmt.Errorf("print key row: %w", werr)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush key table: %w", err)
	}
	return writef(os.Stdout, "\n%d key(s) shown (limit %d)\n", len(keys), opts.Limit)
}

func runClearSeenKeys(cmdCtx *commandContext, args []string) error {
	opts, err := parseClearSeenFlags(args)
	if err != nil {
		return err
	}

	scope := "all sources"
	if opts.Source != "" {
		scope = "source " + opts.Source
	}
	if !opts.DryRun {
		if confirmErr := confirmAction(opts.Yes, "clear seen-key cache", scope); confirmErr != nil {
			return confirmErr
		}
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 2*time.Minute)
	defer cancel()

	redisClient, err := connectRedis(cmdCtx)
	if err != nil {
		return err
	}
	defer closeQuietly(cmdCtx.Logger, "redis", redisClient)

	keys, err := scanSeenKeys(ctx, redisClient, opts.Source, 0)
	if err != nil {
		return err
	}

	if opts.DryRun {
		if werr := writef(os.Stdout, "dry-run: would delete %d Redis key(s) for %s\n", len(keys), scope); werr != nil {
			return werr
		}
	} else if len(keys) > 0 {
		if _, delErr := redisClient.Del(ctx, keys...).Result(); delErr != nil {
			return fmt.Errorf("delete seen keys: %w", delErr)
		}
		if werr := writef(os.Stdout, "deleted %d Redis key(s) for %s\n", len(keys), scope); werr != nil {
			return werr
		}
	} else if werr := writeln(os.Stdout, "no Redis keys matched"); werr != nil {
		return werr
	}

	if !opts.WithRecords {
		return nil
	}
	return clearDedupRecords(cmdCtx, opts)
}

// clearDedupRecords deletes durable dedup rows. Postings keep their own
// unique constraint, so clearing records only re-opens the first-sighting
// window; it cannot duplicate stored postings.
func clearDedupRecords(cmdCtx *commandContext, opts clearSeenOptions) error {
	return withDatabase(cmdCtx, 2*time.Minute, func(ctx context.Context, db *sql.DB) error {
		query := "DELETE FROM dedup_records"
		dryQuery := "SELECT COUNT(*) FROM dedup_records"
		var args []any
		if opts.Source != "" {
			query += " WHERE source_id = $1"
			dryQuery += " WHERE source_id = $1"
			args = append(args, opts.Source)
		}

		if opts.DryRun {
			var count int64
			if err := db.QueryRowContext(ctx, dryQuery, args...).Scan(&count); err != nil {
				return fmt.Errorf("count dedup records: %w", err)
			}
			return writef(os.Stdout, "dry-run: would delete %d dedup record(s)\n", count)
		}

		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete dedup records: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("count deleted dedup records: %w", err)
		}
		return writef(os.Stdout, "deleted %d dedup record(s)\n", rows)
	})
}

// scanSeenKeys iterates the seen-key namespace with SCAN. A source
// id narrows the match to that source's identity and URL keys; limit 0 means
// unbounded.
func scanSeenKeys(ctx context.Context, client redis.UniversalClient, sourceID string, limit int) ([]string, error) {
	patterns := []string{seenKeyPrefix + "*"}
	if sourceID != "" {
		patterns = []string{
			seenKeyPrefix + "id:" + sourceID + ":*",
			seenKeyPrefix + "url:" + sourceID + ":*",
		}
	}

	var keys []string
	for _, pattern := range patterns {
		iter := client.Scan(ctx, 0, pattern, 500).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
			if limit > 0 && len(keys) >= limit {
				return keys, nil
			}
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer closeQuietly(cmdCtx.Logger, "db", db)

	return f(ctx, db)
}

func connectRedis(cmdCtx *commandContext) (redis.UniversalClient, error) {
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func resetSchema(ctx context.Context, cmdCtx *commandContext, db *sql.DB) error {
	cfg := &cmdCtx.Config.Postgres
	statements := []string{
		"DROP SCHEMA public CASCADE",
		"CREATE SCHEMA public",
		"GRANT ALL ON SCHEMA public TO public",
	}
	if user := strings.TrimSpace(cfg.User); user != "" && !strings.EqualFold(user, "public") {
		statements = append(statements, "GRANT ALL ON SCHEMA public TO "+quoteIdentifier(user))
	}

	for _, stmt := range statements {
		if cmdCtx.Logger != nil {
			cmdCtx.Logger.DebugContext(ctx, "executing reset statement", "sql", stmt)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func guardRemoteHost(cmdCtx *commandContext, allow bool, action string) error {
	if !isLikelyRemoteHost(cmdCtx.Config.Postgres.Host) {
		return nil
	}
	if !allow {
		return fmt.Errorf(
			"refusing to run against potentially remote database host %q; re-run with --allow-remote if this is intentional",
			cmdCtx.Config.Postgres.Host,
		)
	}
	return requireTypedConfirmation(action, cmdCtx.Config.Postgres.Host)
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" || h == "localhost" || h == "127.0.0.1" || h == "::1" {
		return false
	}
	if strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

func requireTypedConfirmation(action, host string) error {
	if err := writef(
		os.Stderr,
		"\nWARNING: database host %q does not look like a local address.\n"+
			"This operation will %s.\n",
		host,
		action,
	); err != nil {
		return fmt.Errorf("print remote host warning: %w", err)
	}
	if err := writef(os.Stderr, "Type %q to continue or press enter to abort: ", host); err != nil {
		return fmt.Errorf("print remote host prompt: %w", err)
	}
	resp, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil || strings.TrimSpace(resp) != host {
		return errors.New("aborted by user")
	}
	return nil
}

func confirmAction(yes bool, action, target string) error {
	if yes {
		return nil
	}
	if err := writef(os.Stdout, "About to %s (%s). Type 'yes' to continue: ", action, target); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}
	resp, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil || strings.TrimSpace(resp) != "yes" {
		return errors.New("aborted by user")
	}
	return nil
}

func closeQuietly(logger *slog.Logger, name string, c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil && logger != nil {
		logger.Warn(name+" close failed", "error", err)
	}
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func writeln(w io.Writer, msg string) error {
	if _, err := fmt.Fprintln(w, msg); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
