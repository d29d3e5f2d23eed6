package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/lox/wandiforecast/internal/api"
	"github.com/lox/wandiforecast/internal/archive"
	"github.com/lox/wandiforecast/internal/chart"
	"github.com/lox/wandiforecast/internal/export"
	"github.com/lox/wandiforecast/internal/forecast"
	"github.com/lox/wandiforecast/internal/housekeeping"
	"github.com/lox/wandiforecast/internal/models"
	"github.com/lox/wandiforecast/internal/pipeline"
	"github.com/lox/wandiforecast/internal/store"
)

type Globals struct {
	DB         string `help:"Path to SQLite payload cache." default:"data/wandiforecast.db" env:"WANDIFORECAST_DB"`
	ArchiveURL string `help:"Archive API endpoint." default:"${archive_url}" env:"WANDIFORECAST_ARCHIVE_URL"`
	Workers    int    `help:"Concurrent model fits per stage (0 = GOMAXPROCS)." default:"0" env:"WANDIFORECAST_WORKERS"`
	NoCache    bool   `help:"Disable the in-memory and SQLite response caches."`
}

type QueryFlags struct {
	Lat  float64 `help:"Latitude." default:"50.45"`
	Lon  float64 `help:"Longitude." default:"30.52"`
	From string  `help:"First date (YYYY-MM-DD)."`
	To   string  `help:"Last date (YYYY-MM-DD)."`
	Type string  `help:"Daily or Hourly." default:"Daily" enum:"Daily,Hourly,daily,hourly"`
}

func (q QueryFlags) request() models.Request {
	return models.Request{Latitude: q.Lat, Longitude: q.Lon, From: q.From, To: q.To, Type: q.Type}
}

type CLI struct {
	Globals

	Serve    ServeCmd    `cmd:"" help:"Run the HTTP API."`
	Forecast ForecastCmd `cmd:"" help:"Forecast a date range and compare it with observations."`
	Backtest BacktestCmd `cmd:"" help:"Score period-step forecasts over historical chunks."`
	Validate ValidateCmd `cmd:"" help:"Rolling-origin cross validation."`
	Prune    PruneCmd    `cmd:"" help:"Delete old cached archive payloads."`
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("wandiforecast"),
		kong.Description("Weather forecasting from historical archive observations."),
		kong.UsageOnError(),
		kong.Vars{"archive_url": archive.DefaultBaseURL},
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

// open builds the pipeline. The returned close func releases the store.
func (g *Globals) open() (*pipeline.Pipeline, *store.Store, func(), error) {
	opts := []archive.Option{archive.WithBaseURL(g.ArchiveURL)}
	var st *store.Store
	if g.NoCache {
		opts = append(opts, archive.WithCacheTTL(0))
	} else {
		if err := os.MkdirAll(filepath.Dir(g.DB), 0755); err != nil {
			return nil, nil, nil, fmt.Errorf("create db dir: %w", err)
		}
		var err error
		st, err = store.Open(g.DB)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open store: %w", err)
		}
		opts = append(opts, archive.WithStore(st))
	}

	p := pipeline.New(archive.NewClient(opts...), pipeline.WithWorkers(g.Workers))
	closeFn := func() {
		if st != nil {
			st.Close()
		}
	}
	return p, st, closeFn, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

type ServeCmd struct {
	Port          string `help:"HTTP server port." default:"8080" env:"PORT"`
	RetentionDays int    `help:"Prune cached payloads older than this many days." default:"90"`
}

func (c *ServeCmd) Run(g *Globals) error {
	p, st, closeFn, err := g.open()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()

	if st != nil {
		go housekeeping.NewScheduler(st, c.RetentionDays, housekeeping.DefaultInterval).Run(ctx)
	}

	log.Printf("starting server on :%s", c.Port)
	return api.NewServer(p, st, c.Port).Run(ctx)
}

type ForecastCmd struct {
	QueryFlags `embed:""`

	OutDir     string `help:"Write forecast.csv and actual.csv here."`
	ChartField string `help:"Also render <field>.png into --out-dir."`
}

func (c *ForecastCmd) Run(g *Globals) error {
	p, _, closeFn, err := g.open()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := p.Forecast(ctx, c.request())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "field\tMAE\n")
	for _, f := range sortedKeys(res.Comparison) {
		fmt.Fprintf(w, "%s\t%.3f\n", f, res.Comparison[f])
	}
	fmt.Fprintf(w, "condition accuracy\t%.3f\n", res.ConditionAccuracy)
	if err := w.Flush(); err != nil {
		return err
	}

	if c.OutDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.OutDir, 0755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}
	for name, t := range map[string]*models.Table{"forecast.csv": res.Forecast, "actual.csv": res.Actual} {
		if err := writeCSV(filepath.Join(c.OutDir, name), t); err != nil {
			return err
		}
	}
	if c.ChartField != "" {
		data, err := chart.Render(c.ChartField, res.Forecast, res.Actual)
		if err != nil {
			return fmt.Errorf("render chart: %w", err)
		}
		path := filepath.Join(c.OutDir, c.ChartField+".png")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("write chart: %w", err)
		}
	}
	log.Printf("wrote results to %s", c.OutDir)
	return nil
}

type BacktestCmd struct {
	QueryFlags `embed:""`

	Period int    `help:"Forecast horizon in units." default:"7"`
	Input  string `help:"Backtest a CSV table instead of fetching." type:"existingfile"`
}

func (c *BacktestCmd) Run(g *Globals) error {
	p, _, closeFn, err := g.open()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()

	var mae map[string]float64
	if c.Input != "" {
		f, err := os.Open(c.Input)
		if err != nil {
			return err
		}
		defer f.Close()
		table, err := export.ReadCSV(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", c.Input, err)
		}
		mae, err = p.BacktestTable(ctx, table, table.Granularity, c.Period)
		if err != nil {
			return err
		}
	} else {
		q, err := c.request().Parse()
		if err != nil {
			return err
		}
		mae, err = p.Backtest(ctx, q, c.Period)
		if err != nil {
			return err
		}
	}

	if len(mae) == 0 {
		fmt.Println("not enough history for a single backtest chunk")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "field\tMAE\n")
	for _, f := range sortedKeys(mae) {
		fmt.Fprintf(w, "%s\t%.3f\n", f, mae[f])
	}
	return w.Flush()
}

type ValidateCmd struct {
	QueryFlags `embed:""`

	Initial time.Duration `help:"Minimum training span." default:"24000h"`
	Period  time.Duration `help:"Spacing between cutoffs." default:"4320h"`
	Horizon time.Duration `help:"Scored span after each cutoff." default:"8760h"`
}

func (c *ValidateCmd) Run(g *Globals) error {
	p, _, closeFn, err := g.open()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()

	q, err := c.request().Parse()
	if err != nil {
		return err
	}
	scores, err := p.Validate(ctx, q, forecast.CrossValidation{
		Initial: c.Initial,
		Period:  c.Period,
		Horizon: c.Horizon,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "field\tRMSE\tMAE\tMAPE\tSMAPE\tpoints\n")
	fields := make([]string, 0, len(scores))
	for f := range scores {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		s := scores[f]
		fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%.3f\t%.3f\t%d\n", f, s.RMSE, s.MAE, s.MAPE, s.SMAPE, s.Points)
	}
	return w.Flush()
}

type PruneCmd struct {
	Days int `help:"Keep payloads fetched within this many days." default:"90"`
}

func (c *PruneCmd) Run(g *Globals) error {
	st, err := store.Open(g.DB)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	n, err := st.CleanupOldArchivePayloads(c.Days)
	if err != nil {
		return err
	}
	log.Printf("deleted %d archive payloads older than %d days", n, c.Days)
	return nil
}

func writeCSV(path string, t *models.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteCSV(f, t); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
