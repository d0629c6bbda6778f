// Command sensoragent runs the edge streaming agent: it samples I²C
// environmental sensors and streams rows into a cloud ingestion channel.
package main

import (
	"context"
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/tspannhw/RPIThermalStreaming/agent"
	"github.com/tspannhw/RPIThermalStreaming/config"
)

// options is the command-line flag surface.
type options struct {
	Config    string  `short:"c" long:"config" description:"path to the YAML config document" required:"true"`
	BatchSize int     `long:"batch-size" description:"override batch_size from the config file"`
	Interval  float64 `long:"interval" description:"override interval_seconds from the config file"`
	Fast      bool    `long:"fast" description:"select the fast intra-batch pacing profile"`
	Verbose   bool    `short:"v" long:"verbose" description:"enable debug-level logging"`
}

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 on graceful shutdown, 1 on
// unrecoverable startup failure, 2 on fatal runtime failure.
func run() int {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		return 1
	}

	if opts.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.WithError(err).Error("loading config")
		return 1
	}
	applyOverrides(cfg, opts)

	ctx := context.Background()
	sup, err := agent.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("starting agent")
		return 1
	}

	if err := sup.Run(ctx); err != nil {
		log.WithError(err).Error("agent run failed")
		return 2
	}
	return 0
}

func applyOverrides(cfg *config.Document, opts options) {
	if opts.BatchSize > 0 {
		cfg.BatchSize = opts.BatchSize
	}
	if opts.Interval > 0 {
		cfg.IntervalSeconds = opts.Interval
	}
	if opts.Fast {
		cfg.Fast = true
	}
}
