// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Command afdb builds windowed atrial fibrillation datasets from WFDB records
// and inspects the classifier network.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"text/tabwriter"

	"github.com/OpenPSG/afdb/config"
	"github.com/OpenPSG/afdb/dataset"
	"github.com/OpenPSG/afdb/model"
	"github.com/dustin/go-humanize"
)

const usage = `usage: afdb <command> [flags]

commands:
  stats   summarise AF and normal rhythm time per record
  build   window the records into train/test datasets
  model   describe the network and run a forward pass
  synth   write synthetic records for smoke testing

Run "afdb <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	commands := map[string]func(args []string) error{
		"stats": runStats,
		"build": runBuild,
		"model": runModel,
		"synth": runSynth,
	}

	run, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err := run(os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "afdb %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// setup loads the configuration named by -config, applies the environment
// and builds the logger.
func setup(configPath string) (config.Config, *slog.Logger, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return cfg, nil, err
		}
	}

	if err := cfg.ApplyEnv(".env"); err != nil {
		return cfg, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger, err := config.NewLogger(os.Stderr, cfg.Log)
	if err != nil {
		return cfg, nil, err
	}
	slog.SetDefault(logger)

	return cfg, logger, nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	dataPath := fs.String("data", "", "directory holding the records (overrides data.path)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	if *dataPath != "" {
		cfg.Data.Path = *dataPath
	}

	loader := dataset.NewLoader(cfg.Data.Path, cfg.Data.Annotator, logger)
	stats, err := dataset.ComputeStats(loader, cfg.Data.Channel, logger)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORD\tAF (h)\tNORMAL (h)\tAF %")
	for _, r := range stats.Records {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.1f\n", r.Record, r.AF.Hours(), r.Normal.Hours(), r.AFPercent())
	}
	fmt.Fprintf(tw, "TOTAL\t%.2f\t%.2f\t%.1f\n", stats.TotalAF().Hours(), stats.TotalNormal().Hours(), stats.AFPercent())
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(stats.Skipped) > 0 {
		fmt.Printf("\n%s records skipped\n", humanize.Comma(int64(len(stats.Skipped))))
	}

	return nil
}

func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	dataPath := fs.String("data", "", "directory holding the records (overrides data.path)")
	outPath := fs.String("out", "", "directory for the dataset artifact (overrides output.path)")
	noSave := fs.Bool("no-save", false, "build without saving the artifact")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	if *dataPath != "" {
		cfg.Data.Path = *dataPath
	}
	if *outPath != "" {
		cfg.Output.Path = *outPath
	}
	if *noSave {
		cfg.Output.Path = ""
	}

	loader := dataset.NewLoader(cfg.Data.Path, cfg.Data.Annotator, logger)
	builder, err := dataset.NewBuilder(loader, dataset.Options{
		Window:       cfg.Window,
		Channel:      cfg.Data.Channel,
		TestFraction: cfg.Split.TestFraction,
		Seed:         cfg.Split.Seed,
		OutputDir:    cfg.Output.Path,
	}, logger)
	if err != nil {
		return err
	}

	res, err := builder.Build()
	if err != nil {
		return err
	}

	for _, split := range []struct {
		name  string
		split dataset.Split
	}{{"train", res.Train}, {"test", res.Test}} {
		w := split.split.Windows
		fmt.Printf("%-5s  %s records  %s windows of %d samples  %s AF\n",
			split.name,
			humanize.Comma(int64(len(split.split.Records)-len(split.split.Skipped()))),
			humanize.Comma(int64(w.Len())), w.Size,
			humanize.Comma(int64(w.Positives())))
		for _, o := range split.split.Skipped() {
			fmt.Printf("       skipped %s: %v\n", o.Record, o.Err)
		}
	}
	for _, o := range res.Incomplete {
		fmt.Printf("incomplete %s: %v\n", o.Record, o.Err)
	}
	if res.Artifact != nil {
		fmt.Printf("saved %s (%s)\n", res.Path, res.Artifact.ID)
	}

	return nil
}

func runModel(args []string) error {
	fs := flag.NewFlagSet("model", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	batch := fs.Int("batch", 8, "number of windows in the forward pass")
	artifact := fs.String("artifact", "", "directory of a saved dataset to draw test windows from, random input if empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	if *batch < 1 {
		return fmt.Errorf("batch must be at least 1, got %d", *batch)
	}

	net, err := model.New(cfg.Model)
	if err != nil {
		return err
	}

	fmt.Println(net)
	fmt.Printf("Total parameters: %s\n", humanize.Comma(int64(net.NumParams())))

	var (
		input  *model.Tensor
		labels []uint8
	)
	if *artifact != "" {
		a, err := dataset.LoadArtifact(*artifact)
		if err != nil {
			return err
		}
		if cfg.Model.InputChannels != 1 {
			return fmt.Errorf("saved windows have 1 channel, model expects %d: %w", cfg.Model.InputChannels, model.ErrShape)
		}
		var samples []float32
		samples, labels = a.Test.Batch(0, *batch)
		if len(labels) == 0 {
			return fmt.Errorf("artifact %s has no test windows", a.ID)
		}
		if input, err = model.FromData(len(labels), 1, a.Test.Size, samples); err != nil {
			return err
		}
		logger.Info("Loaded test windows", slog.String("artifact", a.ID.String()), slog.Int("windows", len(labels)))
	} else {
		input = model.NewTensor(*batch, cfg.Model.InputChannels, cfg.Window.Size)
		rng := rand.New(rand.NewSource(cfg.Model.Seed))
		for i := range input.Data {
			input.Data[i] = float32(rng.NormFloat64())
		}
	}

	logits, err := net.Forward(input)
	if err != nil {
		return err
	}

	fmt.Printf("Input shape: %v\n", input.Shape())
	fmt.Printf("Output shape: [%d %d]\n", len(logits), cfg.Model.OutputSize)
	for i, l := range logits {
		probs := model.Softmax(l)
		class := model.Argmax(l)
		if labels != nil {
			fmt.Printf("  window %d: class %d (p=%.3f), label %d\n", i, class, probs[class], labels[i])
		} else {
			fmt.Printf("  window %d: class %d (p=%.3f)\n", i, class, probs[class])
		}
	}

	return nil
}

func runSynth(args []string) error {
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	dir := fs.String("dir", "data/synthetic", "directory to write the records into")
	seconds := fs.Int("seconds", 120, "duration of each rhythm segment")
	samplingFrequency := fs.Float64("fs", 250, "sampling frequency in Hz")
	annotator := fs.String("annotator", "atr", "annotation file extension")
	seed := fs.Int64("seed", 1, "noise and beat timing seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *seconds < 1 || *samplingFrequency <= 0 {
		return fmt.Errorf("seconds and fs must be positive")
	}

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		return err
	}

	n := int(float64(*seconds) * *samplingFrequency)
	records := []dataset.Synthetic{
		{Name: "normal", Segments: []dataset.Segment{{Marker: "(N", Length: n}}},
		{Name: "afib", Segments: []dataset.Segment{{Marker: "(AFIB", Length: n}}},
		{Name: "mixed", Segments: []dataset.Segment{
			{Length: n / 4},
			{Marker: "(N", Length: n},
			{Marker: "(AFIB", Length: n},
			{Marker: "(AFL", Length: n / 2},
			{Marker: "(N", Length: n},
		}},
	}

	for i, s := range records {
		s.SamplingFrequency = *samplingFrequency
		s.Annotator = *annotator
		s.Seed = *seed + int64(i)
		if err := dataset.WriteSynthetic(*dir, s); err != nil {
			return fmt.Errorf("error writing %s: %w", s.Name, err)
		}
		fmt.Printf("wrote %s\n", s.Name)
	}

	return nil
}
