package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/odyssey-erp/storeledger/cmd/ledgerctl/cli"
	"github.com/odyssey-erp/storeledger/internal/app"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  trigger -job <ledger:integrity|ledger:seed_accounts|maintenance:idempotency_cleanup> [-tenants 1,2] [-retention-hours 168]
  queue
`

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisOptions().Asynq())
	defer jobsCLI.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		job := fs.String("job", "", "task name")
		tenants := fs.String("tenants", "", "comma separated tenant ids")
		retention := fs.Int("retention-hours", 0, "idempotency key retention")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		ids, err := parseIDs(*tenants)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, *job, cli.TriggerOptions{TenantIDs: ids, RetentionHours: *retention})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "queue":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(stats)
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	return 0
}

func parseIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid tenant id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
