package saft

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ParserVersion is recorded in every run's run_meta table. Bump it whenever
// row semantics change, so downstream consumers can detect mixed vintages.
const ParserVersion = "2.0.0"

const parserName = "saft"

// defaultProgressEvery is the tick interval in end-of-element events.
const defaultProgressEvery = 50000

// Options tunes one ingestion run. The zero value is fully usable.
type Options struct {
	// ProgressEvery is the tick interval in end-of-element events.
	// Zero means the default; progress and cancellation share the interval.
	ProgressEvery int64
	// OnProgress, when set, receives one Snapshot per tick. It runs on the
	// ingestion goroutine, so it must return promptly.
	OnProgress ProgressFunc
	// WriteRaw enables the per-element debug dump. Off by default; the dump
	// can dwarf the input file.
	WriteRaw bool
	// Sentinel replaces the placeholder account id for lines whose account
	// cannot be determined. Empty means the package default.
	Sentinel string
	// Aliases overrides the built-in alias table. Nil means DefaultAliases.
	Aliases AliasTable
}

func (o Options) progressEvery() int64 {
	if o.ProgressEvery > 0 {
		return o.ProgressEvery
	}
	return defaultProgressEvery
}

func (o Options) sentinel() string {
	if o.Sentinel != "" {
		return o.Sentinel
	}
	return SentinelAccount
}

func (o Options) aliases() AliasTable {
	if o.Aliases != nil {
		return o.Aliases
	}
	return DefaultAliases
}

// RunOutcome summarizes one finished (or cancelled) ingestion run.
type RunOutcome struct {
	RunID string
	// UsedFallback is true when the streaming pass failed and the run was
	// redone by full materialization.
	UsedFallback bool
	// Cancelled is true when the run stopped at a tick because the context
	// was done. Tables hold a consistent prefix of the output.
	Cancelled bool
	// Rows counts rows written per entity table.
	Rows map[string]int64
	// Events is the number of end-of-element events processed.
	Events   int64
	Findings Findings
	Duration time.Duration
	// PeriodStart and PeriodEnd are the parsed selection bounds from the
	// header, zero when the header carried none.
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Ingest reads the audit file at sourcePath and lands its tables on target.
// The streaming pass is tried first; if it fails for any reason other than
// cancellation, the target is reset and the run is redone from scratch by the
// materializing fallback. An error return means neither tier could process
// the file and the target contents are undefined.
func Ingest(ctx context.Context, sourcePath string, target SinkTarget, opts Options) (*RunOutcome, error) {
	outcome := &RunOutcome{RunID: uuid.NewString()}

	st := newStats()
	res := resolver{aliases: opts.aliases()}
	em := newEmitter(target, res, st, opts)

	rc, err := OpenSource(sourcePath)
	if err != nil {
		return nil, err
	}
	streamErr := streamParse(ctx, rc, em, st, opts)
	rc.Close()

	switch {
	case streamErr == nil:
	case errors.Is(streamErr, context.Canceled), errors.Is(streamErr, context.DeadlineExceeded):
		outcome.Cancelled = true
	default:
		// Start over: the partial streaming output is discarded wholesale so
		// the fallback never has to reconcile with it.
		if err := target.Reset(); err != nil {
			return nil, err
		}
		st = newStats()
		em = newEmitter(target, res, st, opts)
		rc, err := OpenSource(sourcePath)
		if err != nil {
			return nil, err
		}
		fbErr := fallbackParse(rc, em, st)
		rc.Close()
		if fbErr != nil {
			return nil, fbErr
		}
		outcome.UsedFallback = true
	}

	if !outcome.Cancelled {
		outcome.Findings = runChecks(em)
		if err := writeFindings(em, outcome.Findings); err != nil {
			return nil, err
		}
	}

	if err := em.write(SinkRunMeta, []string{
		outcome.RunID, parserName, ParserVersion,
		strconv.FormatBool(outcome.UsedFallback),
		strconv.FormatBool(outcome.Cancelled),
		strconv.FormatBool(opts.WriteRaw),
	}); err != nil {
		return nil, err
	}

	outcome.Rows = make(map[string]int64, len(st.rows))
	for k, v := range st.rows {
		outcome.Rows[k] = v
	}
	outcome.Events = st.events
	outcome.Duration = time.Since(st.started)
	outcome.PeriodStart = em.periodStart
	outcome.PeriodEnd = em.periodEnd

	if opts.OnProgress != nil {
		opts.OnProgress(st.snapshot())
	}
	return outcome, nil
}
