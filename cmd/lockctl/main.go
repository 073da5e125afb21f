// lockctl is the operator tool for the lockout subsystem: inspect an
// account's lock and throttle state, lift lockouts, impose temporary ones,
// and run schema migrations. It talks straight to the database; there is no
// network surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/promptstash/lockgate/internal/background"
	"github.com/promptstash/lockgate/internal/config"
	"github.com/promptstash/lockgate/internal/database"
	"github.com/promptstash/lockgate/internal/repositories"
	"github.com/promptstash/lockgate/internal/services"
	pkglogger "github.com/promptstash/lockgate/pkg/logger"
)

const usage = `usage: lockctl <command> [flags]

commands:
  status <account-id>           show lock, throttle and failure-count state
  unlock <account-id>           clear all active lockouts for the account
  lock <account-id>             impose a temporary lockout
  locked                        list accounts with an active lockout
  sweep                         run one retention sweep and exit
  migrate                       apply pending schema migrations
`

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}

	repo := repositories.NewLockoutRepository(db)
	audit := pkglogger.NewAuditLogger(logger)
	clock := services.SystemClock()
	gate := services.NewLockoutGate(repo, cfg.Lockout, clock, logger, audit)
	admin := services.NewAdminService(repo, cfg.Lockout, clock, logger, audit)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	// close the pool before exiting; os.Exit skips deferred calls
	err = run(ctx, os.Args[1], os.Args[2:], cfg, db, gate, admin, repo, logger)
	cancel()
	db.Close()
	if err != nil {
		logger.Error("command failed", slog.String("command", os.Args[1]), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	command string,
	args []string,
	cfg *config.Config,
	db *database.DB,
	gate *services.LockoutGate,
	admin *services.AdminService,
	repo *repositories.LockoutRepository,
	logger *slog.Logger,
) error {
	switch command {
	case "status":
		accountID, err := accountArg(command, args)
		if err != nil {
			return err
		}
		return printStatus(ctx, gate, accountID)

	case "unlock":
		fs := flag.NewFlagSet("unlock", flag.ExitOnError)
		clearedBy := fs.String("by", "", "identifier of the operator performing the unlock")
		accountID, err := accountArgWithFlags(command, args, fs)
		if err != nil {
			return err
		}
		if err := admin.UnlockAccount(ctx, accountID, *clearedBy); err != nil {
			return err
		}
		fmt.Printf("account %s unlocked\n", accountID)
		return nil

	case "lock":
		fs := flag.NewFlagSet("lock", flag.ExitOnError)
		duration := fs.Duration("for", time.Hour, "how long the lockout lasts")
		accountID, err := accountArgWithFlags(command, args, fs)
		if err != nil {
			return err
		}
		until := time.Now().UTC().Add(*duration)
		if err := admin.LockAccountUntil(ctx, accountID, until); err != nil {
			return err
		}
		fmt.Printf("account %s locked until %s\n", accountID, until.Format(time.RFC3339))
		return nil

	case "locked":
		lockouts, err := admin.LockedAccounts(ctx)
		if err != nil {
			return err
		}
		if len(lockouts) == 0 {
			fmt.Println("no locked accounts")
			return nil
		}
		for _, l := range lockouts {
			end := "permanent"
			if l.LockoutEnd != nil {
				end = l.LockoutEnd.Format(time.RFC3339)
			}
			fmt.Printf("%s\tsince %s\tuntil %s\tfailures %d\n",
				l.AccountID, l.LockoutStart.Format(time.RFC3339), end, l.FailedAttemptsAtLockout)
		}
		return nil

	case "sweep":
		rm := background.NewRetentionManager(repo, cfg.Retention, logger)
		rm.RunOnce(ctx)
		return nil

	case "migrate":
		if err := db.Migrate(ctx, "migrations"); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func printStatus(ctx context.Context, gate *services.LockoutGate, accountID string) error {
	locked, err := gate.IsLocked(ctx, accountID)
	if err != nil {
		return err
	}
	count, err := gate.FailedAttemptCount(ctx, accountID)
	if err != nil {
		return err
	}
	delay, throttled, err := gate.BackoffDelay(ctx, accountID)
	if err != nil {
		return err
	}

	fmt.Printf("account:          %s\n", accountID)
	fmt.Printf("locked:           %t\n", locked)
	fmt.Printf("failed attempts:  %d\n", count)
	if throttled {
		fmt.Printf("backoff delay:    %s\n", delay)
	} else {
		fmt.Printf("backoff delay:    none\n")
	}
	return nil
}

func accountArg(command string, args []string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", fmt.Errorf("%s requires exactly one account id", command)
	}
	return args[0], nil
}

func accountArgWithFlags(command string, args []string, fs *flag.FlagSet) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", fmt.Errorf("%s requires an account id", command)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return "", err
	}
	return args[0], nil
}
