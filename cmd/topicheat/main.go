package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/topicheat/internal/aggregate"
	"github.com/TobiSchelling/topicheat/internal/batch"
	"github.com/TobiSchelling/topicheat/internal/cluster"
	"github.com/TobiSchelling/topicheat/internal/compose"
	"github.com/TobiSchelling/topicheat/internal/config"
	"github.com/TobiSchelling/topicheat/internal/database"
	"github.com/TobiSchelling/topicheat/internal/issue"
	"github.com/TobiSchelling/topicheat/internal/llm"
	"github.com/TobiSchelling/topicheat/internal/logging"
	"github.com/TobiSchelling/topicheat/internal/pipeline"
	"github.com/TobiSchelling/topicheat/internal/scheduler"
	"github.com/TobiSchelling/topicheat/internal/synthesize"
	"github.com/TobiSchelling/topicheat/internal/topic"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     zerolog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "topicheat",
	Short:   "Daily and version hot topics from game community chat logs",
	Long:    "topicheat clusters exported chat logs with an LLM and ranks the topics by speaker and message heat.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.New("info", "console", os.Stderr)

		// Skip config loading for init, version and schema
		switch cmd.Name() {
		case "init", "version", "schema":
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return eris.Wrap(err, "loading config")
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger = logging.New(level, cfg.Logging.Format, os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(dailyCmd)
	rootCmd.AddCommand(rollupCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(schemaCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("topicheat", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/topicheat/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return eris.Wrap(err, "creating config directory")
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return eris.Wrap(err, "writing config")
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to point at your chat exports and configure the LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show accumulator and provider status",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.ReadAll()
		if err != nil {
			return err
		}

		fmt.Printf("Store: %s (%s)\n", cfg.StorePath(), cfg.Store.Backend)
		fmt.Printf("Records: %d\n\n", len(records))
		for _, s := range database.Summarize(records) {
			fmt.Printf("  %s  %3d records  %d run(s)\n", s.Date, s.Records, s.Runs)
		}

		inputs, _ := pipeline.ResolveInputs(cfg.Input.ChatGlob)
		fmt.Printf("\nChat inputs: %d file(s) matching %s\n", len(inputs), cfg.Input.ChatGlob)
		if llm.CreateProvider(cfg.LLM, &logger) == nil {
			fmt.Println("LLM: not available")
		} else {
			fmt.Println("LLM: available")
		}
		return nil
	},
}

// --- parse command ---

var (
	parseBatch int
	parseDate  string
)

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse a raw model response into normalized cluster records",
	Long:  "Reads a saved classifier response (or stdin) and prints the repaired, key-normalized records. With --date the records are converted to sub-clusters and given ids.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrap(err, "opening response")
			}
			defer f.Close()
			in = f
		}
		raw, err := io.ReadAll(in)
		if err != nil {
			return eris.Wrap(err, "reading response")
		}

		log := issue.NewLog(&logger)
		parser := cluster.NewParser(cfg.Pipeline.PlaceholderTokens)
		records := parser.Clusters(string(raw), parseBatch, log)

		var out any = records
		if parseDate != "" {
			subs := cluster.ToSubClusters(records, parseBatch, nil, log)
			if err := cluster.Assign(subs, parseDate, batch.Tag(parseBatch)); err != nil {
				return err
			}
			out = subs
		}
		if err := printJSON(os.Stdout, out); err != nil {
			return err
		}
		printIssues(log.Issues())
		return nil
	},
}

func init() {
	parseCmd.Flags().IntVar(&parseBatch, "batch", 1, "Batch number the response belongs to")
	parseCmd.Flags().StringVar(&parseDate, "date", "", "Assign sub-cluster ids for this date (YYYY-MM-DD)")
}

// --- daily command ---

var (
	dailyDate   string
	dryRun      bool
	noStore     bool
	dailyOutDir string
)

var dailyCmd = &cobra.Command{
	Use:   "daily [chat files...]",
	Short: "Rank the hot topics of one day and append them to the accumulator",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := inputPaths(args)
		if err != nil {
			return err
		}

		var store database.Store
		if !noStore {
			store, err = openStore()
			if err != nil {
				return err
			}
			defer store.Close()
		}

		provider := llm.CreateProvider(cfg.LLM, &logger)
		pipe := pipeline.New(cfg, provider, store, &logger)

		var r *pipeline.DayReport
		if dryRun {
			r = pipe.DryRun(dailyDate, paths)
		} else {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			r = pipe.RunDay(ctx, dailyDate, paths)
		}

		printSteps(r.Steps)
		printIssues(r.Issues)
		if dryRun {
			return nil
		}

		fmt.Printf("\n%s: %s, %d topic(s)\n", r.Date, r.Status, len(r.Clusters))
		for i, c := range r.Clusters {
			fmt.Printf("  %d. %s  heat %.2f (%d speakers, %d messages)\n", i+1, c.TopicTitle, c.HeatScore, c.SpeakerCount, c.MessageCount)
		}
		if r.Status != aggregate.StatusOK {
			return nil
		}
		return writeOutputs(outDir(dailyOutDir), "daily_top_"+r.Date, r.Clusters,
			"Daily "+r.Date, compose.DailyMarkdown(r.Date, r.Clusters))
	},
}

func init() {
	dailyCmd.Flags().StringVar(&dailyDate, "date", "", "Date to process (default: latest date in the input)")
	dailyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without calling the model")
	dailyCmd.Flags().BoolVar(&noStore, "no-store", false, "Do not append results to the accumulator")
	dailyCmd.Flags().StringVarP(&dailyOutDir, "out", "o", "", "Directory for JSON, Markdown and HTML output (default: data dir)")
}

// --- rollup command ---

var (
	rollupFrom   string
	rollupTo     string
	rollupOutDir string
)

var rollupCmd = &cobra.Command{
	Use:   "rollup [chat files...]",
	Short: "Rank hot topics across a version window from the accumulator",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := inputPaths(args)
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		provider := llm.CreateProvider(cfg.LLM, &logger)
		r := pipeline.New(cfg, provider, store, &logger).RunVersion(ctx, rollupFrom, rollupTo, paths)

		printSteps(r.Steps)
		printIssues(r.Issues)
		fmt.Printf("\n%s: %s, %d topic(s)\n", database.MakePeriodID(rollupFrom, rollupTo), r.Status, len(r.Clusters))
		for i, c := range r.Clusters {
			fmt.Printf("  %d. %s  heat %.2f over %d day(s)\n", i+1, c.TopicTitle, c.TotalHeatScore, c.Coverage.Days)
		}
		if r.Status != aggregate.StatusOK {
			return nil
		}
		period := database.MakePeriodID(rollupFrom, rollupTo)
		return writeOutputs(outDir(rollupOutDir), "version_top_"+period, r.Clusters,
			"Version "+period, compose.VersionMarkdown(rollupFrom, rollupTo, r.Clusters))
	},
}

func init() {
	rollupCmd.Flags().StringVar(&rollupFrom, "from", "", "First date of the window (YYYY-MM-DD)")
	rollupCmd.Flags().StringVar(&rollupTo, "to", "", "Last date of the window (YYYY-MM-DD)")
	rollupCmd.Flags().StringVarP(&rollupOutDir, "out", "o", "", "Directory for JSON, Markdown and HTML output (default: data dir)")
}

// --- records command ---

var (
	recordsFrom   string
	recordsTo     string
	recordsLatest bool
	recordsJSON   bool
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List persisted daily records",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := loadRecords(recordsFrom, recordsTo, recordsLatest)
		if err != nil {
			return err
		}
		if recordsJSON {
			return printJSON(os.Stdout, records)
		}
		if len(records) == 0 {
			fmt.Println("No records. Run 'topicheat daily' first.")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%4d  %s  %6.2f  %s\n", r.Idx, r.DailyTopID, r.HeatScore, r.TopicTitle)
		}
		return nil
	},
}

func init() {
	recordsCmd.Flags().StringVar(&recordsFrom, "from", "", "First date (YYYY-MM-DD)")
	recordsCmd.Flags().StringVar(&recordsTo, "to", "", "Last date (YYYY-MM-DD)")
	recordsCmd.Flags().BoolVar(&recordsLatest, "latest", true, "Only show the latest run of each date")
	recordsCmd.Flags().BoolVar(&recordsJSON, "json", false, "Print records as JSON")
}

// --- report command ---

var (
	reportDate   string
	reportOutDir string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the stored daily ranking of a date as Markdown and HTML",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportDate == "" {
			return eris.New("--date is required")
		}
		records, err := loadRecords(reportDate, reportDate, true)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return eris.Errorf("no records for %s", reportDate)
		}
		sort.SliceStable(records, func(i, j int) bool { return records[i].Idx < records[j].Idx })
		clusters := make([]topic.DailyCluster, 0, len(records))
		for _, r := range records {
			clusters = append(clusters, r.DailyCluster)
		}
		markdown := compose.DailyMarkdown(reportDate, clusters)
		if reportOutDir == "" {
			fmt.Print(markdown)
			return nil
		}
		return writeOutputs(reportOutDir, "daily_top_"+reportDate, clusters, "Daily "+reportDate, markdown)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportDate, "date", "", "Date to render (YYYY-MM-DD)")
	reportCmd.Flags().StringVarP(&reportOutDir, "out", "o", "", "Write files here instead of printing Markdown")
}

// --- schedule command ---

var scheduleNow bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the daily ranking for yesterday on the configured cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		sched, err := scheduler.New(cfg.Schedule.Timezone, time.Hour, &logger)
		if err != nil {
			return err
		}
		job := func(ctx context.Context, date string) error {
			paths, err := pipeline.ResolveInputs(cfg.Input.ChatGlob)
			if err != nil {
				return err
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			provider := llm.CreateProvider(cfg.LLM, &logger)
			r := pipeline.New(cfg, provider, store, &logger).RunDay(ctx, date, paths)
			for _, s := range r.Steps {
				if s.Err != nil {
					return eris.Wrapf(s.Err, "step %s", s.Name)
				}
			}
			if r.Status != aggregate.StatusOK {
				logger.Warn().Str("date", date).Str("status", r.Status).Msg("no hot topics")
				return nil
			}
			return writeOutputs(cfg.GetDataDir(), "daily_top_"+date, r.Clusters,
				"Daily "+date, compose.DailyMarkdown(date, r.Clusters))
		}

		if scheduleNow {
			return sched.RunNow("daily", job)
		}
		if err := sched.AddDaily("daily", cfg.Schedule.Cron, job); err != nil {
			return err
		}
		sched.Start()
		for _, j := range sched.ListJobs() {
			fmt.Printf("Job %s (%s), next run %s\n", j.Name, j.Spec, j.NextRun.Format(time.DateTime))
		}
		fmt.Println("Press Ctrl+C to stop")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		<-sched.Stop().Done()
		return nil
	},
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleNow, "now", false, "Run the job once for yesterday and exit")
}

// --- schema command ---

var schemaCmd = &cobra.Command{
	Use:   "schema [name]",
	Short: "Print the JSON schemas appended to model prompts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schemas, err := synthesize.Schemas()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			s, ok := schemas[args[0]]
			if !ok {
				return eris.Errorf("unknown schema %q", args[0])
			}
			fmt.Println(s)
			return nil
		}
		names := make([]string, 0, len(schemas))
		for name := range schemas {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("# %s\n%s\n\n", name, schemas[name])
		}
		return nil
	},
}

// --- helpers ---

func openStore() (database.Store, error) {
	return database.Open(cfg.Store.Backend, cfg.StorePath(), &logger)
}

func inputPaths(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	paths, err := pipeline.ResolveInputs(cfg.Input.ChatGlob)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, eris.Errorf("no chat logs match %s", cfg.Input.ChatGlob)
	}
	return paths, nil
}

func loadRecords(from, to string, latest bool) ([]topic.DailyRecord, error) {
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	records, err := store.ReadAll()
	if err != nil {
		return nil, err
	}
	if latest {
		records = database.LatestRuns(records)
	}
	return database.InRange(records, from, to), nil
}

func outDir(flag string) string {
	if flag != "" {
		return flag
	}
	return cfg.GetDataDir()
}

// writeOutputs writes base.json, base.md and base.html into dir.
func writeOutputs(dir, base string, v any, title, markdown string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "creating output directory")
	}
	var buf bytes.Buffer
	if err := printJSON(&buf, v); err != nil {
		return err
	}
	html, err := compose.RenderHTML(title, markdown)
	if err != nil {
		return err
	}
	files := map[string][]byte{
		base + ".json": buf.Bytes(),
		base + ".md":   []byte(markdown),
		base + ".html": []byte(html),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return eris.Wrapf(err, "writing %s", name)
		}
	}
	fmt.Printf("\nWrote %s.{json,md,html} to %s\n", base, dir)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSteps(steps []pipeline.StepResult) {
	for i, step := range steps {
		fmt.Printf("\nStep %d: %s\n", i+1, step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}

func printIssues(issues []issue.Issue) {
	if len(issues) == 0 {
		return
	}
	fmt.Printf("\n%d issue(s):\n", len(issues))
	for _, i := range issues {
		fmt.Printf("  %s\n", i)
	}
}
