package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Strob0t/personagov/internal/adapter/datastore"
	govotel "github.com/Strob0t/personagov/internal/adapter/otel"
	"github.com/Strob0t/personagov/internal/adapter/postgres"
	"github.com/Strob0t/personagov/internal/config"
	"github.com/Strob0t/personagov/internal/domain/persona"
	"github.com/Strob0t/personagov/internal/domain/spend"
	"github.com/Strob0t/personagov/internal/logger"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "version":
		return runAdminVersion(args[1:])
	case "seed-types":
		return runAdminSeedTypes(args[1:])
	case "reset-daily":
		return runAdminReset(args[1:], "daily")
	case "reset-monthly":
		return runAdminReset(args[1:], "monthly")
	case "check-alerts":
		return runAdminCheckAlerts(args[1:])
	case "spend-status":
		return runAdminSpendStatus(args[1:])
	case "spend-analytics":
		return runAdminSpendAnalytics(args[1:])
	case "project-costs":
		return runAdminProjectCosts(args[1:])
	case "suggest-allocation":
		return runAdminSuggestAllocation(args[1:])
	case "find-instance":
		return runAdminFindInstance(args[1:])
	case "health":
		return runAdminHealth(args[1:])
	case "pool-status":
		return runAdminPoolStatus(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: personagov admin <command> [options]

Commands:
  migrate         Apply pending schema migrations
  rollback        Roll back the last N migrations
  version         Print the current schema version
  seed-types      Insert persona types from a YAML file, skipping existing names
  reset-daily     Zero every instance's daily spend counter
  reset-monthly   Zero every instance's monthly spend counter
  check-alerts    Evaluate spend alert thresholds and publish alerts
  spend-status    Show the spend status of one instance
  spend-analytics Summarize spend by project, type or instance
  project-costs   Project an instance's spend from its last 30 days
  suggest-allocation
                  Split a monthly budget across a project's active instances
  find-instance   Pick the least-loaded eligible instance of a type
  health          Probe every store
  pool-status     Print connection pool state
  help            Show this help message

Examples:
  personagov admin migrate
  personagov admin rollback --steps 2
  personagov admin seed-types --file personas.yaml
  personagov admin reset-daily
  personagov admin spend-status --instance 6f1c...
  personagov admin spend-analytics --project alpha
  personagov admin project-costs --instance 6f1c... --days 14
  personagov admin suggest-allocation --project alpha --budget 2500
  personagov admin find-instance --type 2b9e... --project alpha
`)
}

func parseNoFlags(name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return fs.Parse(args)
}

// loadAdminApp wires the full application for commands that touch the ledger
// or the scheduler. Logging is limited to warnings.
func loadAdminApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, _ := logger.New(config.Logging{Level: "warn", Service: cfg.Logging.Service})
	slog.SetDefault(log)

	metrics, err := govotel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	return bootstrap(ctx, cfg, log, metrics)
}

func runAdminMigrate(args []string) error {
	if err := parseNoFlags("migrate", args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := postgres.RunMigrations(context.Background(), cfg.Postgres.DSN); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Migrations applied")
	return nil
}

func runAdminRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return fmt.Errorf("--steps must be at least 1")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := postgres.RollbackMigrations(context.Background(), cfg.Postgres.DSN, *steps); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *steps)
	return nil
}

func runAdminVersion(args []string) error {
	if err := parseNoFlags("version", args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	v, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

// seedFile is the YAML layout read by seed-types.
type seedFile struct {
	Types []persona.CreateTypeRequest `yaml:"types"`
}

func runAdminSeedTypes(args []string) error {
	fs := flag.NewFlagSet("seed-types", flag.ContinueOnError)
	path := fs.String("file", "", "YAML file with a top-level types list (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("--file is required")
	}
	data, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	n, err := a.instances.SeedTypes(ctx, seed.Types)
	if err != nil {
		return fmt.Errorf("seed types: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Inserted %d of %d persona type(s)\n", n, len(seed.Types))
	return nil
}

func runAdminReset(args []string, period string) error {
	if err := parseNoFlags("reset-"+period, args); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	reset := a.ledger.ResetDailySpend
	if period == "monthly" {
		reset = a.ledger.ResetMonthlySpend
	}
	n, err := reset(ctx)
	if err != nil {
		return fmt.Errorf("reset %s spend: %w", period, err)
	}
	fmt.Fprintf(os.Stderr, "Reset %s spend on %d instance(s)\n", period, n)
	return nil
}

func runAdminCheckAlerts(args []string) error {
	if err := parseNoFlags("check-alerts", args); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	alerts, err := a.ledger.CheckAlerts(ctx)
	if err != nil {
		return fmt.Errorf("check alerts: %w", err)
	}
	if len(alerts) == 0 {
		fmt.Println("No alerts.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "INSTANCE\tNAME\tPERIOD\tSPENT\tLIMIT\tPCT\tTHRESHOLD")
	for i := range alerts {
		for _, t := range alerts[i].Triggers {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				alerts[i].InstanceID, alerts[i].InstanceName, t.Kind,
				t.CurrentSpend.StringFixed(2), t.Limit.StringFixed(2),
				t.CurrentPct.StringFixed(1), t.ThresholdPct.StringFixed(1))
		}
	}
	return w.Flush()
}

func runAdminSpendStatus(args []string) error {
	fs := flag.NewFlagSet("spend-status", flag.ContinueOnError)
	instanceID := fs.String("instance", "", "persona instance id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *instanceID == "" {
		return fmt.Errorf("--instance is required")
	}
	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	status, err := a.scheduler.CheckSpendLimits(ctx, *instanceID)
	if err != nil {
		return fmt.Errorf("spend status: %w", err)
	}
	return printJSON(status)
}

func runAdminSpendAnalytics(args []string) error {
	fs := flag.NewFlagSet("spend-analytics", flag.ContinueOnError)
	var f spend.AnalyticsFilter
	fs.StringVar(&f.InstanceID, "instance", "", "restrict to one instance")
	fs.StringVar(&f.Project, "project", "", "restrict to one project")
	fs.StringVar(&f.TypeID, "type", "", "restrict to one persona type id")
	fs.BoolVar(&f.ActiveOnly, "active", false, "only active instances")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	report, err := a.ledger.SpendAnalytics(ctx, f)
	if err != nil {
		return fmt.Errorf("spend analytics: %w", err)
	}
	return printJSON(report)
}

func runAdminProjectCosts(args []string) error {
	fs := flag.NewFlagSet("project-costs", flag.ContinueOnError)
	instanceID := fs.String("instance", "", "persona instance id (required)")
	days := fs.Int("days", 30, "days to project ahead")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *instanceID == "" {
		return fmt.Errorf("--instance is required")
	}
	if *days < 1 || *days > spend.MaxProjectionDays {
		return fmt.Errorf("--days must be within [1, %d]", spend.MaxProjectionDays)
	}
	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	p, err := a.ledger.ProjectCosts(ctx, *instanceID, *days)
	if err != nil {
		return fmt.Errorf("project costs: %w", err)
	}
	return printJSON(p)
}

func runAdminSuggestAllocation(args []string) error {
	fs := flag.NewFlagSet("suggest-allocation", flag.ContinueOnError)
	project := fs.String("project", "", "project to allocate across (required)")
	budget := fs.String("budget", "", "monthly target budget, e.g. 2500.00 (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" {
		return fmt.Errorf("--project is required")
	}
	target, err := decimal.NewFromString(*budget)
	if err != nil {
		return fmt.Errorf("--budget must be a decimal amount: %w", err)
	}
	if err := persona.ValidateBudget(target); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	alloc, err := a.ledger.SuggestAllocation(ctx, *project, target)
	if err != nil {
		return fmt.Errorf("suggest allocation: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "INSTANCE\tNAME\tCURRENT\tSUGGESTED\tCHANGE%\tREASON")
	for _, r := range alloc.Recommendations {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.InstanceID, r.InstanceName, r.CurrentLimit.StringFixed(2),
			r.SuggestedLimit.StringFixed(2), r.ChangePct.StringFixed(1), r.Reason)
	}
	_, _ = fmt.Fprintf(w, "TOTAL\t\t%s\t%s\t\t(target %s)\n",
		alloc.CurrentTotal.StringFixed(2), alloc.SuggestedTotal.StringFixed(2), alloc.TargetBudget.StringFixed(2))
	return w.Flush()
}

func runAdminFindInstance(args []string) error {
	fs := flag.NewFlagSet("find-instance", flag.ContinueOnError)
	typeID := fs.String("type", "", "persona type id (required)")
	project := fs.String("project", "", "restrict to one project")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *typeID == "" {
		return fmt.Errorf("--type is required")
	}
	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	inst, err := a.scheduler.FindAvailableInstance(ctx, *typeID, *project)
	if err != nil {
		return fmt.Errorf("find instance: %w", err)
	}
	if inst == nil {
		fmt.Println("No eligible instance.")
		return nil
	}
	return printJSON(inst)
}

// withStores opens the stores without building services.
func withStores(fn func(ctx context.Context, db *datastore.Manager) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, _ := logger.New(config.Logging{Level: "warn", Service: cfg.Logging.Service})

	ctx := context.Background()
	db := datastore.New(cfg, log)
	if err := db.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize stores: %w", err)
	}
	defer func() { _ = db.Close(context.Background()) }()
	return fn(ctx, db)
}

func runAdminHealth(args []string) error {
	if err := parseNoFlags("health", args); err != nil {
		return err
	}
	return withStores(func(ctx context.Context, db *datastore.Manager) error {
		h := db.HealthCheck(ctx)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "STORE\tHEALTHY")
		for _, store := range []string{datastore.StorePostgres, datastore.StoreNATS, datastore.StoreGraph} {
			_, _ = fmt.Fprintf(w, "%s\t%t\n", store, h[store])
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if !datastore.Healthy(h) {
			return fmt.Errorf("required store unavailable")
		}
		return nil
	})
}

func runAdminPoolStatus(args []string) error {
	if err := parseNoFlags("pool-status", args); err != nil {
		return err
	}
	return withStores(func(_ context.Context, db *datastore.Manager) error {
		return printJSON(db.Status())
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
