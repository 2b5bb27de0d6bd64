package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"salaryclf/config"
	"salaryclf/logging"
	"salaryclf/pipeline"
)

const previewRows = 5

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	in := flag.String("in", "", "input CSV file")
	out := flag.String("out", "predicted_classes.csv", "output CSV file")
	charset := flag.String("charset", "", "input charset (defaults to batch.charset)")
	flag.Parse()

	if err := run(*configPath, *in, *out, *charset); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath, in, out, charset string) error {
	if in == "" {
		return errors.New("-in is required")
	}

	cfg, err := config.Load(config.Locate(configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Log.Format = "console"
	cfg.Log.File = ""
	logger := logging.New(cfg.Log)
	defer logger.Sync()
	if charset == "" {
		charset = cfg.Batch.Charset
	}

	artifacts, err := pipeline.LoadArtifacts(cfg)
	if err != nil {
		return err
	}
	svc, err := pipeline.NewService(artifacts, pipeline.OptionsFromConfig(cfg), logger)
	if err != nil {
		return err
	}

	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()

	table, err := pipeline.ReadCSV(f, charset)
	if err != nil {
		return err
	}
	result, err := svc.PredictBatch(pipeline.WithSource(context.Background(), "cli"), table)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := result.Output.WriteCSV(dst); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	for _, warning := range result.Warnings {
		logger.Warn(warning)
	}
	if err := result.Output.Head(previewRows).WriteCSV(os.Stdout); err != nil {
		return err
	}
	logger.Info("predictions saved", zap.String("path", out), zap.Int("rows", len(result.Labels)))
	return nil
}
