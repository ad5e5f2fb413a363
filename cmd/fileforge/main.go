// FileForge - tabular workbook engine.
// Opens delimited, spreadsheet, JSON, Parquet, and database files into
// an embedded analytical store and exposes SQL over the result.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

// CLI flags
var (
	formatFlag    string
	delimiterFlag string
	noHeaderFlag  bool
	verbose       bool

	sqlFlag     string
	rulesFile   string
	projectFlag string
	rawJSON     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fileforge",
	Short: "FileForge - SQL over tabular files",
	Long: `FileForge opens tabular files (CSV, TSV, Excel, JSON, Parquet,
SQLite, DuckDB) into an embedded analytical store and runs SQL,
profiling, and data-quality checks over the result.`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

var lsCmd = &cobra.Command{
	Use:   "ls [files...]",
	Short: "List the datasets of one or more files",
	Long: `Open the given files as one workbook and list every dataset with
its row count, column count, and source.

Examples:
  fileforge ls orders.csv
  fileforge ls orders.csv customers.xlsx`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLs,
}

var describeCmd = &cobra.Command{
	Use:   "describe [file] [dataset]",
	Short: "Show the schema of one dataset",
	Args:  cobra.ExactArgs(2),
	RunE:  runDescribe,
}

var queryCmd = &cobra.Command{
	Use:   "query [files...]",
	Short: "Run SQL over the datasets of one or more files",
	Long: `Open the given files as one workbook and run SQL against the
imported datasets. Table names are the dataset technical names.

Examples:
  fileforge query orders.csv --sql "SELECT count(*) FROM orders"
  fileforge query a.csv b.csv --sql "SELECT * FROM a JOIN b USING (id)"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

var profileCmd = &cobra.Command{
	Use:   "profile [file] [dataset]",
	Short: "Compute per-column statistics for a dataset",
	Long: `Profile one dataset: null counts, distinct cardinality, entropy,
and value bounds. With no dataset argument every dataset is profiled.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runProfile,
}

var qualityCmd = &cobra.Command{
	Use:   "quality [file] [dataset]",
	Short: "Evaluate data-quality rules against a dataset",
	Long: `Run a JSON rule configuration against one dataset and print the
violation report.

Example:
  fileforge quality orders.csv orders --rules rules.json`,
	Args: cobra.ExactArgs(2),
	RunE: runQuality,
}

var exportCmd = &cobra.Command{
	Use:   "export [files...]",
	Short: "Export a workbook as a project manifest",
	Long: `Open the given files as one workbook and print the project
manifest that reproduces it. With --project the manifest is also
saved to the configured projects backend.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExport,
}

var openCmd = &cobra.Command{
	Use:   "open [manifest]",
	Short: "Rebuild a workbook from a project manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runOpen,
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects saved in the configured backend",
	RunE:  runProjects,
}

var watchCmd = &cobra.Command{
	Use:   "watch [file]",
	Short: "Re-run a query whenever a source file changes",
	Long: `Watch a source file and re-import it on every change, then re-run
the given SQL and print the result.

Example:
  fileforge watch orders.csv --sql "SELECT count(*) FROM orders"`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "", "Input format (csv, tsv, xlsx, json, jsonl, parquet, sqlite, duckdb) - auto-detected if not specified")
	rootCmd.PersistentFlags().StringVar(&delimiterFlag, "delimiter", "", "Field delimiter for delimited formats")
	rootCmd.PersistentFlags().BoolVar(&noHeaderFlag, "no-header", false, "Treat the first row as data, not column names")

	queryCmd.Flags().StringVar(&sqlFlag, "sql", "", "SQL statement to run (required)")
	queryCmd.MarkFlagRequired("sql")
	queryCmd.Flags().BoolVar(&rawJSON, "json", false, "Print the raw JSON payload")

	qualityCmd.Flags().StringVar(&rulesFile, "rules", "", "Path to the JSON rule configuration (required)")
	qualityCmd.MarkFlagRequired("rules")
	qualityCmd.Flags().BoolVar(&rawJSON, "json", false, "Print the raw JSON payload")

	profileCmd.Flags().BoolVar(&rawJSON, "json", false, "Print the raw JSON payload")
	lsCmd.Flags().BoolVar(&rawJSON, "json", false, "Print the raw JSON payload")

	exportCmd.Flags().StringVar(&projectFlag, "project", "", "Project name to save under (defaults to the base file stem)")

	watchCmd.Flags().StringVar(&sqlFlag, "sql", "", "SQL statement to run on every change (required)")
	watchCmd.MarkFlagRequired("sql")

	rootCmd.AddCommand(lsCmd, describeCmd, queryCmd, profileCmd, qualityCmd,
		exportCmd, openCmd, projectsCmd, watchCmd)
}
