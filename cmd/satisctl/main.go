// Command satisctl issues operator tokens, verifies transfer documents and triggers jobs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/HDurna/drn-satis-yazilimi/cmd/satisctl/cli"
	"github.com/HDurna/drn-satis-yazilimi/internal/app"
	"github.com/HDurna/drn-satis-yazilimi/internal/auth"
	"github.com/HDurna/drn-satis-yazilimi/internal/ledger"
	"github.com/HDurna/drn-satis-yazilimi/internal/platform/db"
)

const usage = `usage:
  satisctl token <user-id> [--json]
  satisctl verify <document-ref>... [--json]
  satisctl job <sale-reconcile|stock-refresh|transfer-integrity|daily-sales|idempotency-cleanup> [day]
  satisctl queue`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	cmd, rest := args[0], args[1:]
	jsonOutput := false
	var positional []string
	for _, a := range rest {
		if a == "--json" {
			jsonOutput = true
			continue
		}
		positional = append(positional, a)
	}

	switch cmd {
	case "token":
		if len(positional) != 1 {
			fmt.Fprintln(os.Stderr, usage)
			return 2
		}
		userID, err := strconv.ParseInt(positional[0], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "token: invalid user id %q\n", positional[0])
			return 1
		}
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
		if err != nil {
			fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
			return 1
		}
		defer pool.Close()
		tokens, err := auth.NewTokenManager(cfg.AuthTokenSecret, cfg.AuthTokenTTL, cfg.AuthIssuer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "token: %v\n", err)
			return 1
		}
		return cli.NewTokenCLI(auth.NewRepository(pool), tokens).
			IssueCommand(ctx, cli.TokenOptions{UserID: userID, JSONOutput: jsonOutput})

	case "verify":
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
		if err != nil {
			fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
			return 1
		}
		defer pool.Close()
		svc := ledger.NewService(ledger.NewRepository(pool), nil, nil, app.NewLogger(cfg))
		return cli.VerifyCommand(ctx, svc, cli.VerifyOptions{Refs: positional, JSONOutput: jsonOutput})

	case "job", "queue":
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
			return 1
		}
		defer jobsCLI.Close()
		if cmd == "queue" {
			stats, err := jobsCLI.InspectQueue(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "queue: %v\n", err)
				return 1
			}
			_ = json.NewEncoder(os.Stdout).Encode(stats)
			return 0
		}
		if len(positional) == 0 {
			fmt.Fprintln(os.Stderr, usage)
			return 2
		}
		day := ""
		if len(positional) > 1 {
			day = positional[1]
		}
		info, err := jobsCLI.Trigger(ctx, positional[0], day)
		if err != nil {
			fmt.Fprintf(os.Stderr, "job: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	}
	fmt.Fprintln(os.Stderr, usage)
	return 2
}
