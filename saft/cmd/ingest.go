package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/Simenb123/saft"
	"github.com/hako/durafmt"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var writeRaw bool
var progressEvery int64
var sentinelAccount string
var aliasFile string
var withWorkbook bool
var quiet bool

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <audit-file> <output-dir>",
	Args:  cobra.ExactArgs(2),
	Short: "Parse an audit file into CSV tables",
	Run: func(_ *cobra.Command, args []string) {
		sourcePath := args[0]
		outDir := args[1]

		opts := saft.Options{
			ProgressEvery: progressEvery,
			WriteRaw:      writeRaw,
			Sentinel:      sentinelAccount,
		}
		if opts.ProgressEvery == 0 {
			opts.ProgressEvery = cfg.ProgressEvents
		}
		if !opts.WriteRaw {
			opts.WriteRaw = cfg.WriteRaw
		}
		if opts.Sentinel == "" {
			opts.Sentinel = cfg.Sentinel
		}
		overlay := aliasFile
		if overlay == "" {
			overlay = cfg.AliasFile
		}
		if overlay != "" {
			aliases, err := saft.LoadAliasOverlay(saft.DefaultAliases, overlay)
			if err != nil {
				log.Fatalln(err)
			}
			opts.Aliases = aliases
		}

		target, err := openTarget(outDir)
		if err != nil {
			log.Fatalln(err)
		}

		showProgress := !quiet && isatty.IsTerminal(os.Stderr.Fd())
		if showProgress {
			opts.OnProgress = printProgress
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		outcome, err := saft.Ingest(ctx, sourcePath, target, opts)
		if showProgress {
			fmt.Fprintln(os.Stderr)
		}
		if err != nil {
			target.Close()
			log.Fatalln(err)
		}
		if err := target.Close(); err != nil {
			log.Fatalln(err)
		}
		printSummary(outcome)
	},
}

func openTarget(outDir string) (saft.SinkTarget, error) {
	dir, err := saft.NewDirSink(outDir)
	if err != nil {
		return nil, err
	}
	if !withWorkbook {
		return dir, nil
	}
	book := saft.NewWorkbookSink(filepath.Join(outDir, "tables.xlsx"))
	return teeTarget{dir, book}, nil
}

func printProgress(s saft.Snapshot) {
	line := fmt.Sprintf("%d events, %.0f ev/s, %s elapsed",
		s.Events, s.Rate, durafmt.Parse(s.Elapsed).LimitFirstN(2))
	if w, _, err := term.GetSize(int(os.Stderr.Fd())); err == nil && len(line) > w-1 && w > 1 {
		line = line[:w-1]
	}
	fmt.Fprintf(os.Stderr, "\r%s", line)
}

func printSummary(o *saft.RunOutcome) {
	entities := make([]string, 0, len(o.Rows))
	for name := range o.Rows {
		entities = append(entities, name)
	}
	sort.Strings(entities)
	for _, name := range entities {
		fmt.Printf("%-22s %d\n", name, o.Rows[name])
	}
	fmt.Printf("run %s finished in %s\n", o.RunID, durafmt.Parse(o.Duration).LimitFirstN(2))
	if o.UsedFallback {
		fmt.Println("note: streaming pass failed, output produced by full materialization")
	}
	if o.Cancelled {
		fmt.Println("note: run cancelled, tables hold a partial prefix")
	}
	if n := len(o.Findings.MissingAccounts); n > 0 {
		fmt.Printf("warning: %d account(s) referenced but never declared\n", n)
	}
	if n := len(o.Findings.Unbalanced); n > 0 {
		fmt.Printf("warning: %d unbalanced voucher(s)\n", n)
	}
	if n := len(o.Findings.UnknownTags); n > 0 {
		fmt.Printf("warning: %d unknown element name(s) seen\n", n)
	}
}

// teeTarget lands every row on two sinks, CSV plus workbook.
type teeTarget struct {
	a, b saft.SinkTarget
}

func (t teeTarget) Writer(entity string) (saft.RowWriter, error) {
	wa, err := t.a.Writer(entity)
	if err != nil {
		return nil, err
	}
	wb, err := t.b.Writer(entity)
	if err != nil {
		return nil, err
	}
	return teeWriter{wa, wb}, nil
}

func (t teeTarget) Reset() error {
	if err := t.a.Reset(); err != nil {
		return err
	}
	return t.b.Reset()
}

func (t teeTarget) Close() error {
	errA := t.a.Close()
	if err := t.b.Close(); err != nil {
		return err
	}
	return errA
}

type teeWriter struct {
	a, b saft.RowWriter
}

func (w teeWriter) Write(row []string) error {
	if err := w.a.Write(row); err != nil {
		return err
	}
	return w.b.Write(row)
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().BoolVar(&writeRaw, "raw", false, "Also dump every element to raw_elements. Output can\ndwarf the input file.")
	ingestCmd.Flags().Int64Var(&progressEvery, "progress-events", 0, "Events between progress ticks (0 = default).")
	ingestCmd.Flags().StringVar(&sentinelAccount, "sentinel", "", "Account id used when a line's account cannot be resolved.")
	ingestCmd.Flags().StringVar(&aliasFile, "aliases", "", "YAML file with extra tag spellings per field.")
	ingestCmd.Flags().BoolVarP(&withWorkbook, "xlsx", "x", false, "Also write all tables into one XLSX workbook.")
	ingestCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "No progress output.")
}
