package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/twindeck/internal/analysis"
	"github.com/satindergrewal/twindeck/internal/audio"
)

type AnalyzeParams struct {
	Files  []string `pos:"true" help:"Audio files to analyse."`
	MinBPM int      `help:"Lowest tempo considered." default:"60"`
	MaxBPM int      `help:"Highest tempo considered." default:"200"`
	NoKey  bool     `help:"Skip key estimation." default:"false"`
	JSON   bool     `help:"Print JSON instead of a table." default:"false"`
	Cache  string   `help:"SQLite cache of previous results." optional:"true"`
}

func AnalyzeCmd() *cobra.Command {
	return boa.CmdT[AnalyzeParams]{
		Use:         "analyze [flags] files...",
		Short:       "Estimate tempo and key of audio files",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *AnalyzeParams, cmd *cobra.Command, args []string) {
			if err := runAnalyze(cmd.Context(), params, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "analyze: %v\n", err)
				os.Exit(1)
			}
		},
	}.ToCobra()
}

type analyzed struct {
	File     string                     `json:"file"`
	Estimate *analysis.TempoKeyEstimate `json:"estimate,omitempty"`
	Cached   bool                       `json:"cached,omitempty"`
	Elapsed  time.Duration              `json:"elapsed"`
	Error    string                     `json:"error,omitempty"`
}

func runAnalyze(ctx context.Context, params *AnalyzeParams, out io.Writer) error {
	if len(params.Files) == 0 {
		return errors.New("no files given")
	}
	opts := analysis.Options{
		MinBPM:  float64(params.MinBPM),
		MaxBPM:  float64(params.MaxBPM),
		SkipKey: params.NoKey,
	}

	var store *analysis.Store
	if params.Cache != "" {
		s, err := analysis.OpenStore(params.Cache)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	results := make([]analyzed, 0, len(params.Files))
	for _, f := range params.Files {
		results = append(results, analyzeFile(ctx, f, opts, store))
	}

	if params.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	renderTable(out, results)
	return nil
}

func analyzeFile(ctx context.Context, file string, opts analysis.Options, store *analysis.Store) (r analyzed) {
	r.File = file
	start := time.Now()
	defer func() { r.Elapsed = time.Since(start) }()

	id, err := filepath.Abs(file)
	if err != nil {
		id = file
	}
	if store != nil {
		if est, err := store.Get(id); err == nil {
			r.Estimate, r.Cached = &est, true
			return r
		}
	}

	buf, err := audio.DecodeFile(ctx, file)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	est, err := analysis.Estimate(ctx, buf.Frames, buf.SampleRate, opts)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Estimate = &est
	if store != nil {
		if err := store.Put(id, est); err != nil {
			r.Error = err.Error()
		}
	}
	return r
}

func renderTable(out io.Writer, results []analyzed) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"File", "BPM", "Conf", "Key", "Key Conf", "Note"})

	for _, r := range results {
		name := filepath.Base(r.File)
		if r.Estimate == nil {
			t.AppendRow(table.Row{name, "-", "-", "-", "-", r.Error})
			continue
		}
		e := r.Estimate
		bpm := "?"
		if e.BPM != nil {
			bpm = fmt.Sprintf("%.1f", *e.BPM)
		}
		key := e.Key
		if e.KeyName != "" {
			key = fmt.Sprintf("%s (%s)", e.Key, e.KeyName)
		}
		note := r.Error
		if r.Cached {
			note = "cached"
		}
		t.AppendRow(table.Row{name, bpm, fmt.Sprintf("%.2f", e.Confidence), key, fmt.Sprintf("%.2f", e.KeyConfidence), note})
	}
	t.Render()
}
