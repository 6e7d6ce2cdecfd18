package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"sqlbridge/internal/events"
	"sqlbridge/internal/logging"
	"sqlbridge/internal/sqlchunk"
	"sqlbridge/internal/usage"
)

// convert produces the first BigQuery candidate from the validated Spark
// SQL, chunking oversized input when the mode allows it. It also resets
// the retry budget: fixes count against the candidate produced here.
func (e *Engine) convert(ctx context.Context, st *runState) error {
	e.setStep(st, StepConvert)
	e.emitStatus(st, StepConvert, events.StatusLoading, 0)

	st.retryCount = 0
	st.history = nil
	st.tableDDLs = e.fetchDDLs(ctx, st)

	sql, err := e.translateSource(ctx, st)
	if err != nil {
		if ctx.Err() != nil {
			return e.cancelled(ctx)
		}
		e.emitStatus(st, StepConvert, events.StatusError, 0)
		e.emitLog(st, "error", "conversion failed: %v", err)
		return err
	}

	if e.deps.Mapper != nil {
		sql = e.deps.Mapper.Apply(sql)
	}
	st.currentSQL = sql

	logging.Workflow("run %s: conversion produced %d chars", st.runID, len(sql))
	e.emitStatus(st, StepConvert, events.StatusSuccess, 0)
	return nil
}

// translateSource picks between chunked and whole-query conversion. A
// failed chunk translation falls back to the whole query; a reassembly
// failure does not, since the pieces already translated cannot be
// stitched into anything trustworthy.
func (e *Engine) translateSource(ctx context.Context, st *runState) (string, error) {
	useChunking := false
	switch e.cfg.Chunking.Mode {
	case "disabled":
	case "always":
		useChunking = true
	default:
		useChunking = sqlchunk.ShouldChunk(st.sparkSQL, e.limits)
	}

	if useChunking {
		chunks := sqlchunk.Analyze(st.sparkSQL)
		if len(chunks) > 1 {
			out, err := e.translateChunks(ctx, st, chunks)
			if err == nil || errors.Is(err, ErrChunkReassembly) || ctx.Err() != nil {
				return out, err
			}
			logging.WorkflowWarn("run %s: chunked conversion failed, falling back to whole query: %v", st.runID, err)
			e.emitLog(st, "warning", "chunked conversion failed, falling back to whole query")
		} else {
			logging.ChunkingDebug("run %s: single chunk after analysis, converting whole", st.runID)
		}
	}

	return e.translateWhole(ctx, st)
}

func (e *Engine) translateWhole(ctx context.Context, st *runState) (string, error) {
	res, err := e.deps.Translator.Translate(ctx, TranslateRequest{
		SparkSQL:  st.sparkSQL,
		TableInfo: st.tableInfo,
		TableDDLs: st.tableDDLs,
		Step:      StepConvert,
	})
	if err != nil {
		if ctx.Err() == nil {
			e.track(ctx, st, StepConvert, e.cfg.LLM.StepModel(string(StepConvert)), usage.Tokens{}, 0, err)
		}
		return "", fmt.Errorf("%w: %v", ErrTranslation, err)
	}
	e.track(ctx, st, StepConvert, res.Model, res.Usage, res.Latency, nil)
	return res.SQL, nil
}

// translateChunks converts every translatable chunk, in parallel when
// configured, and reassembles the results in dependency order.
func (e *Engine) translateChunks(ctx context.Context, st *runState, chunks []sqlchunk.Chunk) (string, error) {
	logging.Chunking("run %s: split into %d chunks", st.runID, len(chunks))
	e.emitLog(st, "info", "split SQL into %d chunks", len(chunks))

	indexes := make([]int, 0, len(chunks))
	for i := range chunks {
		if chunks[i].NeedsTranslation() {
			indexes = append(indexes, i)
		}
	}

	translate := func(ctx context.Context, i int) error {
		c := &chunks[i]
		res, err := e.deps.Translator.Translate(ctx, TranslateRequest{
			SparkSQL:  c.Content,
			TableInfo: st.tableInfo,
			TableDDLs: st.tableDDLs,
			Step:      StepConvert,
		})
		if err != nil {
			c.Status = sqlchunk.StatusFailed
			return fmt.Errorf("chunk %d (%s): %w", c.Index, c.Kind, err)
		}
		e.track(ctx, st, StepConvert, res.Model, res.Usage, res.Latency, nil)
		c.Translated = res.SQL
		c.Status = sqlchunk.StatusTranslated
		logging.ChunkingDebug("run %s: chunk %d/%d translated (%s)", st.runID, c.Index+1, len(chunks), c.Kind)
		return nil
	}

	if e.cfg.Chunking.Parallel && e.cfg.Chunking.MaxParallel > 1 && len(indexes) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.Chunking.MaxParallel)
		for _, i := range indexes {
			g.Go(func() error {
				return translate(gctx, i)
			})
		}
		if err := g.Wait(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrTranslation, err)
		}
	} else {
		for _, i := range indexes {
			if err := translate(ctx, i); err != nil {
				return "", fmt.Errorf("%w: %v", ErrTranslation, err)
			}
		}
	}

	out, err := sqlchunk.Reassemble(chunks)
	if err != nil {
		return "", err
	}
	st.chunked = true
	st.chunkCount = len(chunks)
	e.emitLog(st, "info", "reassembled %d chunks", len(chunks))
	return out, nil
}

// fetchDDLs loads the DDL of every mapped target table for prompt
// context. A fetch failure only costs context, so it is logged and the
// table skipped.
func (e *Engine) fetchDDLs(ctx context.Context, st *runState) string {
	if e.deps.Schema == nil || len(st.tableMapping) == 0 {
		return ""
	}

	tables := make([]string, 0, len(st.tableMapping))
	seen := make(map[string]bool, len(st.tableMapping))
	for _, bq := range st.tableMapping {
		if !seen[bq] {
			seen[bq] = true
			tables = append(tables, bq)
		}
	}
	sort.Strings(tables)

	var parts []string
	for _, table := range tables {
		if ctx.Err() != nil {
			break
		}
		ddl, err := e.deps.Schema.TableDDL(ctx, table)
		if err != nil {
			logging.WorkflowWarn("run %s: could not fetch ddl for %s: %v", st.runID, table, err)
			continue
		}
		parts = append(parts, fmt.Sprintf("-- DDL for %s:\n%s", table, ddl))
	}
	if len(parts) == 0 {
		return ""
	}
	e.emitLog(st, "info", "fetched DDLs for %d of %d target tables", len(parts), len(tables))
	return strings.Join(parts, "\n\n")
}
