// Command weft scans a repository and prints its dependency/co-change
// matrix as JSON.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mlade/weft"
)

var (
	projectRoot string
	commit      string
	history     string
	langsFlag   []string
	resolvers   []string
	format      string
	cacheDir    string
	clean       bool
	jobs        int
	tool        string
	rulesDir    string
	matrixName  string
	verbose     bool
)

func main() {
	root := &cobra.Command{
		Use:           "weft",
		Short:         "Dependency and co-change matrix extractor",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	scan := &cobra.Command{
		Use:   "scan",
		Short: "Scan a repository and print its matrix",
		RunE:  runScan,
	}
	scan.Flags().StringVar(&projectRoot, "project-root", ".", "repository to scan")
	scan.Flags().StringVar(&commit, "commit", "", "scan this commit's tree instead of the working tree")
	scan.Flags().StringVar(&history, "history", "", `mine commit history: "all" for every reachable commit, or a file listing revisions`)
	scan.Flags().StringSliceVar(&langsFlag, "langs", nil, "restrict to these languages")
	scan.Flags().StringSliceVar(&resolvers, "resolvers", nil, `resolver order, e.g. "external,native" (first usable wins per language)`)
	scan.Flags().StringVar(&format, "format", weft.FormatJSONV2, "output format: jsonv1 or jsonv2")
	scan.Flags().StringVar(&cacheDir, "cache-dir", "", "persist analysis results under this directory")
	scan.Flags().BoolVar(&clean, "clean", false, "drop cached results before scanning")
	scan.Flags().IntVar(&jobs, "jobs", 0, "worker parallelism (default: number of CPUs)")
	scan.Flags().StringVar(&tool, "tool", "", "external resolver command; gets the language and a directory appended")
	scan.Flags().StringVar(&rulesDir, "rules-dir", "", "load language definitions from this directory instead of the built-in ones")
	scan.Flags().StringVar(&matrixName, "name", "", "matrix name (default: project root base name)")
	scan.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.AddCommand(scan)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []weft.Option{weft.WithLogger(log), weft.WithJobs(jobs)}
	if cacheDir != "" {
		opts = append(opts, weft.WithCacheDir(cacheDir))
	}
	if rulesDir != "" {
		opts = append(opts, weft.WithRulesFS(os.DirFS(rulesDir)))
	}
	if len(langsFlag) > 0 {
		opts = append(opts, weft.WithLanguages(langsFlag...))
	}
	if len(resolvers) > 0 {
		opts = append(opts, weft.WithResolvers(resolvers...))
	}
	if tool != "" {
		opts = append(opts, weft.WithExternalTool(strings.Fields(tool)...))
	}

	engine, err := weft.New(opts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := cmd.Context()
	if clean {
		if err := engine.CleanCache(ctx); err != nil {
			return err
		}
	}

	scanOpts := weft.ScanOptions{Root: projectRoot, Commit: commit}
	switch history {
	case "":
	case "all":
		scanOpts.History = true
	default:
		revs, err := readRevFile(history)
		if err != nil {
			return err
		}
		scanOpts.HistoryRevs = revs
	}

	res, err := engine.Scan(ctx, scanOpts)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}

	name := matrixName
	if name == "" {
		abs, err := filepath.Abs(projectRoot)
		if err != nil {
			return err
		}
		name = filepath.Base(abs)
	}
	return res.WriteDSM(os.Stdout, name, format)
}

func readRevFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading revision file: %w", err)
	}
	var revs []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		revs = append(revs, line)
	}
	if len(revs) == 0 {
		return nil, fmt.Errorf("revision file %s is empty", path)
	}
	return revs, nil
}
