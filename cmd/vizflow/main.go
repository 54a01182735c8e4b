// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// vizflow runs a distributed visualization pipeline: every process extracts the piece of an analytic field
// it owns, and the pieces are composited on the leader, either as images (sort-last, depth compositing) or
// by gathering the geometry.
//
// By default, all processes of the group run in-process. To run one process per host, list the addresses
// of the group in the configuration, and start each process with its -rank.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/vizflow/present"
	"github.com/gomlx/vizflow/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "Configuration file, in YAML or TOML (\".toml\" extension). "+
		"If empty the default configuration is used.")
	flagRank = flag.Int("rank", -1, "Rank of this process in the group given by the \"addresses\" of the configuration. "+
		"If negative, all the processes of the group run in-process.")
	flagEnv = flag.String("env", ".env", "File with environment variables to load, e.g. "+
		"VIZFLOW_DEVICE to select the device. It's ignored if it doesn't exist.")
	flagWatch    = flag.Bool("watch", false, "Run again every time the configuration file changes, until interrupted.")
	flagProgress = flag.Bool("progress", true, "Display a progress bar on the leader.")
	flagSettings = commandline.CreateSettingsFlag(defaultSettings(), "set")
)

func defaultSettings() *commandline.Settings {
	cfg := DefaultConfig()
	return cfg.Settings()
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if err := loadEnv(*flagEnv); err != nil {
		klog.Exitf("%+v", err)
	}
	if *flagWatch && *flagConfig == "" {
		klog.Exitf("-watch requires -config")
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var changes <-chan struct{}
	if *flagWatch {
		changes = must.M1(WatchConfig(ctx, *flagConfig))
	}
	for {
		if err := runOnce(ctx); err != nil {
			if !*flagWatch {
				klog.Errorf("%+v", err)
				os.Exit(1)
			}
			klog.Errorf("%+v", err)
		}
		if !*flagWatch {
			return
		}
		fmt.Printf("Watching %q for changes, interrupt to exit.\n", *flagConfig)
		select {
		case <-ctx.Done():
			return
		case <-changes:
			klog.V(1).Infof("configuration %q changed", *flagConfig)
		}
	}
}

// loadEnv loads the environment variables in path, if it exists.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "checking environment file %q", path)
	}
	return errors.Wrapf(godotenv.Load(path), "loading environment file %q", path)
}

// configure loads the configuration and applies the -set overrides.
func configure() (*Config, error) {
	cfg := DefaultConfig()
	if *flagConfig != "" {
		var err error
		if cfg, err = LoadConfig(*flagConfig); err != nil {
			return nil, err
		}
	}
	settings := cfg.Settings()
	paramsSet, err := commandline.ParseSettings(settings, *flagSettings)
	if err != nil {
		return nil, err
	}
	cfg.ApplySettings(settings)
	if len(paramsSet) > 0 {
		klog.V(1).Infof("settings overridden:\n%s", commandline.SprintModifiedSettings(settings, paramsSet))
	}
	return &cfg, cfg.Validate()
}

// runOnce configures and runs all rounds, and reports them if this process is the leader.
func runOnce(ctx context.Context) error {
	cfg, err := configure()
	if err != nil {
		return err
	}
	if timeout := cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reporter := newRoundReporter(cfg, *flagProgress)
	if *flagRank >= 0 {
		err = RunNode(ctx, cfg, *flagRank, reporter.onRound)
	} else {
		if len(cfg.Addresses) > 0 {
			klog.Warningf("no -rank given, running the %d processes in-process", len(cfg.Addresses))
		}
		err = Run(ctx, cfg, reporter.onRound)
	}
	reporter.done()
	if err != nil {
		return err
	}
	if len(reporter.rows) > 0 {
		must.M(commandline.ReportTable(os.Stdout, fmt.Sprintf("%s compositing of %s", cfg.Mode, cfg.Filter),
			[]string{"Round", "Value", "Triangles", "Pixels", "Time", "Output"}, reporter.rows))
	}
	return nil
}

// roundReporter collects the stats of the rounds on the leader, and saves the frames.
type roundReporter struct {
	cfg          *Config
	showProgress bool
	progress     *commandline.Progress
	rows         [][]string
}

func newRoundReporter(cfg *Config, showProgress bool) *roundReporter {
	return &roundReporter{cfg: cfg, showProgress: showProgress}
}

func (r *roundReporter) onRound(stats commandline.RoundStats, fb *present.Framebuffer) error {
	if r.showProgress && r.progress == nil {
		r.progress = commandline.NewProgress(len(r.cfg.Values))
	}
	output := r.cfg.OutputPath(stats.Round)
	if output != "" {
		if err := SaveFrame(fb, output, r.cfg.OutputScale); err != nil {
			return err
		}
	}
	if r.progress != nil {
		r.progress.Update(stats)
	}
	triangles := "-"
	if r.cfg.Mode == ModeGeometry {
		triangles = humanize.Comma(int64(stats.Triangles))
	}
	r.rows = append(r.rows, []string{
		strconv.Itoa(stats.Round),
		strconv.FormatFloat(r.cfg.Values[stats.Round-1], 'g', -1, 64),
		triangles,
		humanize.Comma(int64(stats.CoveredPixels)),
		commandline.FormatDuration(stats.Duration),
		output,
	})
	return nil
}

func (r *roundReporter) done() {
	if r.progress != nil {
		r.progress.Done()
		r.progress = nil
	}
}
