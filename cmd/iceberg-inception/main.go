package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"iceberg-inception/internal/config"
	"iceberg-inception/internal/dataset"
	"iceberg-inception/internal/nn"
	"iceberg-inception/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (built-in defaults when empty)")
	images := flag.String("images", "", "Override path to the images .npy array")
	labels := flag.String("labels", "", "Override path to the labels .npy array")
	dataDir := flag.String("data-dir", "", "Directory searched for image and label arrays")
	epochs := flag.Int("epochs", 0, "Number of training epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	workers := flag.Int("workers", 0, "Kernel worker goroutines (default: physical cores)")
	seed := flag.Int64("seed", 0, "Weight initialization seed")
	logEvery := flag.Int("log-every", 0, "Log throughput every N steps")
	ckpt := flag.String("checkpoint", "", "Override checkpoint path")
	plotPath := flag.String("plot", "", "Write the loss curve to this file (.svg, .png)")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		ImagesPath:     *images,
		LabelsPath:     *labels,
		DataDir:        *dataDir,
		Epochs:         *epochs,
		BatchSize:      *batchSize,
		NumWorkers:     *workers,
		Seed:           *seed,
		LogEvery:       *logEvery,
		CheckpointPath: *ckpt,
		PlotPath:       *plotPath,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if cfg.ImagesPath == "" {
		cfg.ImagesPath, cfg.LabelsPath, err = dataset.DiscoverInputs(cfg.DataDir)
		if err != nil {
			log.Fatalf("discover inputs: %v", err)
		}
	}
	ds, err := dataset.Load(cfg.ImagesPath, cfg.LabelsPath)
	if err != nil {
		log.Fatalf("load dataset: %v", err)
	}
	log.Printf("images=%s labels=%s examples=%d shape=%dx%dx%d",
		cfg.ImagesPath, cfg.LabelsPath, ds.N, ds.Height, ds.Width, ds.Channels)

	brand, cores, avx2 := nn.CPUSummary()
	if cfg.NumWorkers == 0 {
		cfg.NumWorkers = cores
	}
	log.Printf("cpu=%q cores=%d avx2_fma=%t workers=%d", brand, cores, avx2, cfg.NumWorkers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg := trainer.RunConfig{
		Dataset:        ds,
		Topology:       cfg.Topology,
		Optimizer:      cfg.Optimizer,
		Epochs:         cfg.Epochs,
		BatchSize:      cfg.BatchSize,
		EvalSize:       cfg.EvalSize,
		EvalFixedStart: cfg.EvalFixedStart,
		NumWorkers:     cfg.NumWorkers,
		Seed:           cfg.Seed,
		LogEvery:       cfg.LogEvery,
		CheckpointPath: cfg.CheckpointPath,
		PlotPath:       cfg.PlotPath,
	}

	if _, err := trainer.Run(ctx, runCfg); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}
