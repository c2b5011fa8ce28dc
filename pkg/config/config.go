// Package config enumerates the kernel's tunables, grounded in the
// teacher's flag.StringVar/BoolVar-style Configuration struct.
package config

import (
	"flag"
	"time"

	"dbkernel/pkg/logging"
)

// Config holds every knob spec.md section 6 enumerates, plus the data
// directory and logging settings a runnable kernel needs.
type Config struct {
	// PoolSize is the number of frames the buffer pool manages.
	PoolSize int

	// ReplacerK is the LRU-K history depth.
	ReplacerK int

	// LeafMaxSize and InternalMaxSize bound a B+-tree page's fan-out.
	LeafMaxSize     int
	InternalMaxSize int

	// CycleDetectionInterval is the deadlock detector's scan period.
	CycleDetectionInterval time.Duration

	// BucketSize is the extendible hash directory's per-bucket capacity.
	BucketSize int

	// DataDir holds the kernel's on-disk files.
	DataDir string

	Log logging.Config
}

// Default returns a Config with sensible defaults, usable directly in
// tests without going through flag parsing.
func Default() Config {
	return Config{
		PoolSize:               64,
		ReplacerK:              2,
		LeafMaxSize:            64,
		InternalMaxSize:        64,
		CycleDetectionInterval: 50 * time.Millisecond,
		BucketSize:             4,
		DataDir:                "./data",
		Log: logging.Config{
			Level:  logging.LevelInfo,
			Format: "text",
		},
	}
}

// ParseFlags populates a Config from defaults overridden by command-line
// flags, the same flag.StringVar/IntVar style the teacher's main.go uses
// for its own Configuration struct.
func ParseFlags() Config {
	c := Default()

	flag.IntVar(&c.PoolSize, "pool-size", c.PoolSize, "number of buffer pool frames")
	flag.IntVar(&c.ReplacerK, "replacer-k", c.ReplacerK, "LRU-K history depth")
	flag.IntVar(&c.LeafMaxSize, "leaf-max-size", c.LeafMaxSize, "B+-tree leaf fan-out")
	flag.IntVar(&c.InternalMaxSize, "internal-max-size", c.InternalMaxSize, "B+-tree internal fan-out")
	flag.DurationVar(&c.CycleDetectionInterval, "cycle-detection-interval", c.CycleDetectionInterval, "deadlock detector scan period")
	flag.IntVar(&c.BucketSize, "bucket-size", c.BucketSize, "extendible hash directory bucket capacity")
	flag.StringVar(&c.DataDir, "data", c.DataDir, "data directory path")
	flag.StringVar((*string)(&c.Log.Level), "log-level", string(c.Log.Level), "log level: DEBUG, INFO, WARN, ERROR")
	flag.StringVar(&c.Log.Format, "log-format", c.Log.Format, "log format: text or json")

	flag.Parse()
	return c
}
