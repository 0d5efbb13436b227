package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/matching"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/registry"
	"github.com/meridian-erp/meridian-erp/internal/reporting"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
	"github.com/meridian-erp/meridian-erp/internal/tolerance"
	"github.com/meridian-erp/meridian-erp/internal/workflow"
	"github.com/meridian-erp/meridian-erp/jobs"
)

const usage = `usage: meridian <command> [flags]

commands:
  analyze   -po <id>                       run the three-way match for one purchase order
  approve   -invoice <id> [-version <n>] [-override -reason <text>] [-actor <id>]
  reject    -invoice <id> -reason <text> [-version <n>] [-actor <id>]
  report    [-from <date>] [-to <date>] [-supplier <id>] [-min-variance <amount>]
  metrics   [-from <date>] [-to <date>] [-supplier <id>]
  gl-check                                 scan posted entries for balance violations
  receive   -item <id> -location <id> -qty <n> -cost <n> [-po-line <id>] [-ref <doc>]
  issue     -item <id> -location <id> -qty <n> [-ref <doc>]
  adjust    -item <id> -location <id> -delta <n> [-cost <n>] [-ref <doc>]
  transfer  -item <id> -from-location <id> -to-location <id> -qty <n> [-ref <doc>]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		fatal("load config", err)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		fatal("connect database", err)
	}
	defer pool.Close()

	policy, err := cfg.TolerancePolicy()
	if err != nil {
		fatal("tolerance policy", err)
	}

	env := &cliEnv{ctx: ctx, cfg: cfg, pool: pool, policy: policy, logger: logger}

	var cmdErr error
	switch os.Args[1] {
	case "analyze":
		cmdErr = env.analyze(os.Args[2:])
	case "approve":
		cmdErr = env.approve(os.Args[2:])
	case "reject":
		cmdErr = env.reject(os.Args[2:])
	case "report":
		cmdErr = env.report(os.Args[2:])
	case "metrics":
		cmdErr = env.metrics(os.Args[2:])
	case "gl-check":
		cmdErr = env.glCheck()
	case "receive", "issue", "adjust", "transfer":
		cmdErr = env.stockCommand(os.Args[1], os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if cmdErr != nil {
		fatal(os.Args[1], cmdErr)
	}
}

type cliEnv struct {
	ctx    context.Context
	cfg    *app.Config
	pool   *pgxpool.Pool
	policy tolerance.Policy
	logger *slog.Logger
}

func (e *cliEnv) matcher() (*matching.Service, registry.Repository) {
	repo := registry.NewRepository(e.pool)
	return matching.NewService(repo), repo
}

func (e *cliEnv) analyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	poID := fs.Int64("po", 0, "purchase order id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *poID == 0 {
		return fmt.Errorf("-po is required")
	}

	matcher, _ := e.matcher()
	analysis, err := matcher.AnalyzeThreeWayMatching(e.ctx, *poID)
	if err != nil {
		return err
	}
	result, err := tolerance.Evaluate(analysis, e.policy)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"analysis": analysis, "tolerance": result})
}

func (e *cliEnv) approve(args []string) error {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	invoiceID := fs.Int64("invoice", 0, "invoice id")
	version := fs.Int64("version", 0, "expected invoice version")
	actorID := fs.Int64("actor", 0, "acting user id")
	override := fs.Bool("override", false, "approve despite exceptions")
	reason := fs.String("reason", "", "override reason")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *invoiceID == 0 {
		return fmt.Errorf("-invoice is required")
	}

	decision, err := e.workflow().ApproveMatching(e.ctx, workflow.ApproveInput{
		InvoiceID:       *invoiceID,
		ExpectedVersion: *version,
		ActorID:         *actorID,
		Override:        *override,
		Reason:          *reason,
	})
	if err != nil {
		return err
	}
	return printJSON(decision)
}

func (e *cliEnv) reject(args []string) error {
	fs := flag.NewFlagSet("reject", flag.ExitOnError)
	invoiceID := fs.Int64("invoice", 0, "invoice id")
	version := fs.Int64("version", 0, "expected invoice version")
	actorID := fs.Int64("actor", 0, "acting user id")
	reason := fs.String("reason", "", "rejection reason")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *invoiceID == 0 {
		return fmt.Errorf("-invoice is required")
	}

	decision, err := e.workflow().RejectMatching(e.ctx, workflow.RejectInput{
		InvoiceID:       *invoiceID,
		ExpectedVersion: *version,
		ActorID:         *actorID,
		Reason:          *reason,
	})
	if err != nil {
		return err
	}
	return printJSON(decision)
}

func (e *cliEnv) workflow() *workflow.Service {
	matcher, repo := e.matcher()
	audit := shared.NewAuditLogger(e.pool)
	idem := shared.NewIdempotencyStore(e.pool)
	ledgerSvc := ledger.NewService(ledger.NewRepository(e.pool), audit, idem, e.cfg.BaseCurrency)
	svc := workflow.NewService(repo, matcher, ledgerSvc, audit, e.policy, nil, e.logger)
	svc.WithRecorder(workflow.NewApprovalRecorder(e.pool))
	return svc
}

func (e *cliEnv) reports() *reporting.Service {
	matcher, repo := e.matcher()
	var metricsCache reporting.Cache
	if redisClient, err := cache.New(e.ctx, e.cfg.RedisAddr); err == nil {
		metricsCache = reporting.NewRedisCache(redisClient)
	} else {
		e.logger.Warn("metrics cache unavailable", slog.Any("error", err))
	}
	return reporting.NewService(repo, matcher, e.policy, metricsCache, e.cfg.MetricsCacheTTL, e.logger)
}

func (e *cliEnv) report(args []string) error {
	filter, err := parseFilter("report", args, true)
	if err != nil {
		return err
	}
	report, err := e.reports().GenerateExceptionsReport(e.ctx, filter)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func (e *cliEnv) metrics(args []string) error {
	filter, err := parseFilter("metrics", args, false)
	if err != nil {
		return err
	}
	metrics, err := e.reports().GetMatchingMetrics(e.ctx, filter)
	if err != nil {
		return err
	}
	return printJSON(metrics)
}

func (e *cliEnv) glCheck() error {
	checker := jobs.NewGLIntegrityChecker(e.pool, e.logger, nil)
	broken, err := checker.Scan(e.ctx)
	if err != nil {
		return err
	}
	missing, err := checker.MissingPayables(e.ctx)
	if err != nil {
		return err
	}
	if len(broken) == 0 && len(missing) == 0 {
		fmt.Println("ledger integrity clean")
		return nil
	}
	if len(broken) > 0 {
		if err := printJSON(broken); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		if err := printJSON(missing); err != nil {
			return err
		}
	}
	return fmt.Errorf("%d unbalanced entries, %d missing payables", len(broken), len(missing))
}

func (e *cliEnv) stock() (*stock.Service, error) {
	overReceipt, err := e.cfg.OverReceiptPolicy()
	if err != nil {
		return nil, err
	}
	audit := shared.NewAuditLogger(e.pool)
	idem := shared.NewIdempotencyStore(e.pool)
	ledgerSvc := ledger.NewService(ledger.NewRepository(e.pool), audit, idem, e.cfg.BaseCurrency)
	integration := ledger.NewStockIntegration(ledgerSvc, e.logger)
	return stock.NewService(
		stock.NewRepository(e.pool),
		registry.NewRepository(e.pool),
		audit,
		idem,
		stock.ServiceConfig{OverReceipt: overReceipt},
		integration,
	), nil
}

func (e *cliEnv) stockCommand(name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	itemID := fs.Int64("item", 0, "item id")
	locationID := fs.Int64("location", 0, "location id")
	fromLocation := fs.Int64("from-location", 0, "source location id")
	toLocation := fs.Int64("to-location", 0, "destination location id")
	qty := fs.String("qty", "", "quantity")
	delta := fs.String("delta", "", "signed adjustment quantity")
	cost := fs.String("cost", "0", "unit cost")
	poLineID := fs.Int64("po-line", 0, "purchase order line id")
	ref := fs.String("ref", "", "reference document number")
	actorID := fs.Int64("actor", 0, "acting user id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := e.stock()
	if err != nil {
		return err
	}

	parse := func(s, flagName string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Decimal{}, fmt.Errorf("-%s is required", flagName)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("-%s: %w", flagName, err)
		}
		return d, nil
	}

	var result stock.MutationResult
	switch name {
	case "receive":
		q, err := parse(*qty, "qty")
		if err != nil {
			return err
		}
		c, err := parse(*cost, "cost")
		if err != nil {
			return err
		}
		result, err = svc.ReceiveStock(e.ctx, stock.ReceiveInput{
			ItemID: *itemID, LocationID: *locationID, Qty: q, UnitCost: c,
			RefDocType: "GR", RefDocNumber: *ref, POLineID: *poLineID, ActorID: *actorID,
		})
		if err != nil {
			return err
		}
	case "issue":
		q, err := parse(*qty, "qty")
		if err != nil {
			return err
		}
		result, err = svc.IssueStock(e.ctx, stock.IssueInput{
			ItemID: *itemID, LocationID: *locationID, Qty: q,
			RefDocType: "ISSUE", RefDocNumber: *ref, ActorID: *actorID,
		})
		if err != nil {
			return err
		}
	case "adjust":
		d, err := parse(*delta, "delta")
		if err != nil {
			return err
		}
		c, err := parse(*cost, "cost")
		if err != nil {
			return err
		}
		result, err = svc.AdjustStock(e.ctx, stock.AdjustInput{
			ItemID: *itemID, LocationID: *locationID, Delta: d, UnitCost: c,
			RefDocNumber: *ref, ActorID: *actorID,
		})
		if err != nil {
			return err
		}
	case "transfer":
		q, err := parse(*qty, "qty")
		if err != nil {
			return err
		}
		result, err = svc.TransferStock(e.ctx, stock.TransferInput{
			ItemID: *itemID, FromLocation: *fromLocation, ToLocation: *toLocation,
			Qty: q, RefDocNumber: *ref, ActorID: *actorID,
		})
		if err != nil {
			return err
		}
	}
	return printJSON(result)
}

func parseFilter(name string, args []string, withMinVariance bool) (reporting.Filter, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	from := fs.String("from", "", "start date (YYYY-MM-DD)")
	to := fs.String("to", "", "end date (YYYY-MM-DD)")
	supplierID := fs.Int64("supplier", 0, "supplier id")
	minVariance := fs.String("min-variance", "", "minimum variance amount")
	if err := fs.Parse(args); err != nil {
		return reporting.Filter{}, err
	}

	filter := reporting.Filter{SupplierID: *supplierID}
	filter.To = time.Now().UTC()
	filter.From = filter.To.AddDate(0, -1, 0)
	var err error
	if *from != "" {
		if filter.From, err = time.Parse("2006-01-02", *from); err != nil {
			return reporting.Filter{}, fmt.Errorf("-from: %w", err)
		}
	}
	if *to != "" {
		if filter.To, err = time.Parse("2006-01-02", *to); err != nil {
			return reporting.Filter{}, fmt.Errorf("-to: %w", err)
		}
	}
	if withMinVariance && *minVariance != "" {
		if filter.MinVarianceAmount, err = decimal.NewFromString(*minVariance); err != nil {
			return reporting.Filter{}, fmt.Errorf("-min-variance: %w", err)
		}
	}
	return filter, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func fatal(stage string, err error) {
	slog.Default().Error(stage, slog.Any("error", err))
	os.Exit(1)
}
