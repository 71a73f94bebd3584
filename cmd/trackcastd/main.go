package main

import (
	"flag"

	"github.com/sirupsen/logrus"

	"trackcast/detect"
	"trackcast/server"
)

func main() {

	cfg := server.DefaultConfig()

	// read in cli flags
	addr := flag.String("a", cfg.Addr, "HTTP address to run server on, format address:port")
	dataDir := flag.String("d", cfg.DataDir, "Directory for uploaded and result media")
	weights := flag.String("w", cfg.ModelWeights, "Model weights file")
	modelCfg := flag.String("c", cfg.ModelConfig, "Model network configuration file")
	names := flag.String("n", cfg.ModelNames, "Text file containing model labels")
	poolSize := flag.Int("s", cfg.PoolSize, "Size of the detection engine pool")
	confThresh := flag.Float64("t", float64(cfg.ConfThreshold), "Detection confidence threshold")
	inputSize := flag.Int("i", cfg.InputSize, "Square model input size in pixels")
	skip := flag.Int("k", cfg.SkipInterval, "Frame skip interval for video processing")
	logLevel := flag.String("log", "info", "Log level: debug, info, warn or error")

	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)

	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	logrus.SetLevel(level)

	cfg.Addr = *addr
	cfg.DataDir = *dataDir
	cfg.ModelWeights = *weights
	cfg.ModelConfig = *modelCfg
	cfg.ModelNames = *names
	cfg.PoolSize = *poolSize
	cfg.ConfThreshold = float32(*confThresh)
	cfg.InputSize = *inputSize
	cfg.SkipInterval = *skip

	// load the model once per pool slot, shared across all jobs
	pool, err := detect.NewPool(cfg.PoolSize, detect.ModelFiles{
		Weights: cfg.ModelWeights,
		Config:  cfg.ModelConfig,
		Names:   cfg.ModelNames,
	}, cfg.InputSize, cfg.ConfThreshold)

	if err != nil {
		logrus.Fatalf("Error creating engine pool: %v", err)
	}

	srv, err := server.New(cfg, pool)

	if err != nil {
		pool.Close()
		logrus.Fatalf("Error creating server: %v", err)
	}

	// ListenAndServe only returns on error, release resources before
	// exiting.  logrus.Fatal exits the process so defers would not run
	err = srv.ListenAndServe()

	srv.Close()
	pool.Close()

	logrus.Fatal(err)
}
