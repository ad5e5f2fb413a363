package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"

	"github.com/fileforge/fileforge/pkg/config"
	"github.com/fileforge/fileforge/pkg/format"
	"github.com/fileforge/fileforge/pkg/handle"
	"github.com/fileforge/fileforge/pkg/importer"
	"github.com/fileforge/fileforge/pkg/manifest"
	"github.com/fileforge/fileforge/pkg/profile"
	"github.com/fileforge/fileforge/pkg/projects"
	"github.com/fileforge/fileforge/pkg/quality"
	"github.com/fileforge/fileforge/pkg/tui"
	"github.com/fileforge/fileforge/pkg/watch"
	"github.com/fileforge/fileforge/pkg/workbook"
	"github.com/spf13/cobra"
)

// newManager builds the handle manager from the global configuration.
func newManager() *handle.Manager {
	cfg := config.Global().Get()
	return handle.NewManager(handle.Config{
		MaxWorkbooks:     cfg.Limits.MaxWorkbooks,
		MaxResidentBytes: cfg.MaxResidentBytes(),
	})
}

// flagOptions maps the shared CLI flags to import options.
func flagOptions() (format.Format, importer.Options, error) {
	f, err := format.Parse(formatFlag)
	if err != nil {
		return format.Auto, importer.Options{}, err
	}
	opts := importer.Options{HasHeaderRow: !noHeaderFlag}
	if delimiterFlag != "" {
		opts.Delimiter = delimiterFlag[0]
	}
	return f, opts, nil
}

// openFiles opens the first path as the workbook base and attaches the
// rest in order.
func openFiles(ctx context.Context, mgr *handle.Manager, paths []string) (uint64, *workbook.Workbook, error) {
	f, opts, err := flagOptions()
	if err != nil {
		return 0, nil, err
	}

	var id uint64
	for i, path := range paths {
		buf, err := os.ReadFile(path)
		if err != nil {
			return 0, nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if i == 0 {
			id, err = mgr.Open(ctx, buf, path, f, opts)
		} else {
			err = mgr.Attach(ctx, id, buf, path, f, opts)
		}
		if err != nil {
			return 0, nil, err
		}
	}

	wb, err := mgr.Get(id)
	if err != nil {
		return 0, nil, err
	}
	return id, wb, nil
}

// projectsBackend builds the configured manifest store.
func projectsBackend(ctx context.Context) (projects.Backend, error) {
	cfg := config.Global().Get()
	switch cfg.Projects.Backend {
	case "", "file":
		b, err := projects.NewFileBackend(cfg.Projects.Dir)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "redis":
		b, err := projects.NewRedisBackend(cfg.Projects.Redis)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "s3":
		b, err := projects.NewS3Backend(ctx, cfg.Projects.S3)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown projects backend %q", cfg.Projects.Backend)
	}
}

type listingPayload struct {
	Sheets []struct {
		Name        string `json:"name"`
		RowCount    int64  `json:"rowCount"`
		ColumnCount int    `json:"columnCount"`
	} `json:"sheets"`
}

type sourcesPayload struct {
	Datasets []struct {
		TechnicalName  string `json:"technicalName"`
		SourceFilePath string `json:"sourceFilePath"`
	} `json:"datasets"`
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr := newManager()
	defer mgr.CloseAll()

	_, wb, err := openFiles(ctx, mgr, args)
	if err != nil {
		return err
	}

	payload, err := wb.ListDatasets(ctx)
	if err != nil {
		return err
	}
	if rawJSON {
		fmt.Println(payload)
		return nil
	}

	var listing listingPayload
	if err := json.Unmarshal([]byte(payload), &listing); err != nil {
		return err
	}

	srcPayload, err := wb.ListDatasetSources(ctx)
	if err != nil {
		return err
	}
	var sources sourcesPayload
	if err := json.Unmarshal([]byte(srcPayload), &sources); err != nil {
		return err
	}
	pathByName := make(map[string]string, len(sources.Datasets))
	for _, d := range sources.Datasets {
		pathByName[d.TechnicalName] = d.SourceFilePath
	}

	rows := make([]tui.DatasetRow, 0, len(listing.Sheets))
	for _, s := range listing.Sheets {
		rows = append(rows, tui.DatasetRow{
			Name:        s.Name,
			RowCount:    s.RowCount,
			ColumnCount: s.ColumnCount,
			SourcePath:  pathByName[s.Name],
		})
	}
	tui.PrintDatasets(rows)
	return nil
}

func runDescribe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr := newManager()
	defer mgr.CloseAll()

	_, wb, err := openFiles(ctx, mgr, args[:1])
	if err != nil {
		return err
	}
	payload, err := wb.DescribeDataset(ctx, args[1])
	if err != nil {
		return err
	}
	fmt.Println(payload)
	return nil
}

type queryResult struct {
	Columns []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"columns"`
	Rows [][]interface{} `json:"rows"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr := newManager()
	defer mgr.CloseAll()

	_, wb, err := openFiles(ctx, mgr, args)
	if err != nil {
		return err
	}
	payload, err := wb.Query(ctx, sqlFlag)
	if err != nil {
		return err
	}
	if rawJSON {
		fmt.Println(payload)
		return nil
	}
	printQueryResult(payload)
	return nil
}

func printQueryResult(payload string) {
	var res queryResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		fmt.Println(payload)
		return
	}
	for i, c := range res.Columns {
		if i > 0 {
			fmt.Print("\t")
		}
		fmt.Print(c.Name)
	}
	fmt.Println()
	for _, row := range res.Rows {
		for i, v := range row {
			if i > 0 {
				fmt.Print("\t")
			}
			if v == nil {
				fmt.Print("NULL")
			} else {
				fmt.Print(v)
			}
		}
		fmt.Println()
	}
}

func runProfile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr := newManager()
	defer mgr.CloseAll()

	_, wb, err := openFiles(ctx, mgr, args[:1])
	if err != nil {
		return err
	}

	names := wb.DatasetNames()
	if len(args) == 2 {
		names = []string{args[1]}
	}

	for _, name := range names {
		payload, err := profile.Dataset(ctx, wb, name)
		if err != nil {
			return err
		}
		if rawJSON {
			fmt.Println(payload)
			continue
		}
		var dp profile.DatasetProfile
		if err := json.Unmarshal([]byte(payload), &dp); err != nil {
			return err
		}
		stats := make([]tui.ColumnStat, 0, len(dp.Columns))
		for _, c := range dp.Columns {
			stat := tui.ColumnStat{
				Name:          c.Name,
				Type:          c.Type,
				NullCount:     c.NullCount,
				DistinctCount: c.DistinctCount,
				Entropy:       c.Entropy,
			}
			if c.Min != nil {
				stat.Min = *c.Min
			}
			if c.Max != nil {
				stat.Max = *c.Max
			}
			stats = append(stats, stat)
		}
		tui.PrintProfile(dp.Dataset, dp.RowCount, stats)
	}
	return nil
}

func runQuality(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr := newManager()
	defer mgr.CloseAll()

	rules, err := os.ReadFile(rulesFile)
	if err != nil {
		return fmt.Errorf("reading rules %s: %w", rulesFile, err)
	}

	_, wb, err := openFiles(ctx, mgr, args[:1])
	if err != nil {
		return err
	}
	payload, err := quality.Evaluate(ctx, wb, args[1], rules)
	if err != nil {
		return err
	}
	if rawJSON {
		fmt.Println(payload)
		return nil
	}

	var report quality.Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return err
	}
	lines := make([]tui.RuleLine, 0, len(report.Results))
	for _, r := range report.Results {
		lines = append(lines, tui.RuleLine{
			Rule:       r.Rule,
			Column:     r.Column,
			Severity:   r.Severity,
			Checked:    r.Checked,
			Violations: r.Violations,
			Passed:     r.Passed,
			Samples:    r.Samples,
		})
	}
	tui.PrintQualityReport(report.Dataset, report.RowCount, report.Passed, lines)
	if !report.Passed {
		os.Exit(1)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr := newManager()
	defer mgr.CloseAll()

	_, wb, err := openFiles(ctx, mgr, args)
	if err != nil {
		return err
	}

	m, err := manifest.Export(wb, projectFlag)
	if err != nil {
		return err
	}
	doc, err := m.Encode()
	if err != nil {
		return err
	}
	fmt.Println(doc)

	if projectFlag != "" {
		backend, err := projectsBackend(ctx)
		if err != nil {
			return err
		}
		if err := backend.Save(ctx, projectFlag, m); err != nil {
			return fmt.Errorf("saving project %s: %w", projectFlag, err)
		}
		if verbose {
			tui.PrintSuccess(fmt.Sprintf("saved project %s to %s backend", projectFlag, backend.Name()))
		}
	}
	return nil
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr := newManager()
	defer mgr.CloseAll()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading manifest %s: %w", args[0], err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return err
	}

	id, err := manifest.Import(ctx, m, mgr, os.ReadFile)
	if err != nil {
		return err
	}
	wb, err := mgr.Get(id)
	if err != nil {
		return err
	}

	payload, err := wb.ListDatasets(ctx)
	if err != nil {
		return err
	}
	fmt.Println(payload)
	return nil
}

func runProjects(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	backend, err := projectsBackend(ctx)
	if err != nil {
		return err
	}
	names, err := backend.List(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		tui.PrintInfo(fmt.Sprintf("no projects in %s backend", backend.Name()))
		return nil
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := newManager()
	defer mgr.CloseAll()

	path := args[0]
	id, wb, err := openFiles(ctx, mgr, args)
	if err != nil {
		return err
	}

	run := func() error {
		payload, err := wb.Query(ctx, sqlFlag)
		if err != nil {
			return err
		}
		printQueryResult(payload)
		return nil
	}
	if err := run(); err != nil {
		return err
	}

	f, opts, err := flagOptions()
	if err != nil {
		return err
	}

	w, err := watch.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	w.OnChange = func(changed string) error {
		buf, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := wb.Detach(ctx, path); err != nil {
			return err
		}
		if err := mgr.Attach(ctx, id, buf, path, f, opts); err != nil {
			return err
		}
		tui.PrintInfo("reloaded " + path)
		return run()
	}
	w.OnError = func(p string, err error) {
		tui.PrintError(fmt.Sprintf("%s: %v", p, err))
	}

	if err := w.Watch(path); err != nil {
		return err
	}
	tui.PrintInfo("watching " + path)

	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
