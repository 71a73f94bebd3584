package server

import (
	"trackcast/detect"
	"trackcast/pipeline"
)

// Config defines the runtime configuration for the detection server
type Config struct {
	Addr    string
	DataDir string

	ModelWeights string
	ModelConfig  string
	ModelNames   string

	// PoolSize is the number of detection engines loaded
	PoolSize int
	// ConfThreshold is the minimum detection confidence kept
	ConfThreshold float32
	// InputSize is the square model input size in pixels
	InputSize int

	SkipInterval     int
	ProgressInterval int

	// MaxUploadMB caps the size of accepted uploads
	MaxUploadMB int64
}

// DefaultConfig returns a config aligned with the original service
// behaviour
func DefaultConfig() Config {
	return Config{
		Addr:             ":5000",
		DataDir:          "./data",
		ModelWeights:     "./models/yolo.weights",
		ModelConfig:      "./models/yolo.cfg",
		ModelNames:       "./models/yolo.names",
		PoolSize:         2,
		ConfThreshold:    detect.DefaultConfThresh,
		InputSize:        detect.DefaultInputSize,
		SkipInterval:     pipeline.DefaultSkipInterval,
		ProgressInterval: pipeline.DefaultProgressInterval,
		MaxUploadMB:      100,
	}
}
