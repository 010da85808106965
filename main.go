// Command sdhost is a local host for a diffusion image pipeline. It
// wires the serialized session, the guidance encoding cache, device
// memory policy, the pressure watcher and the run ledger together, runs
// the prompts given on the command line against a stub pipeline, and
// shuts the lot down cleanly on interrupt.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"sdhost/history"
	"sdhost/logging"
	"sdhost/memorypolicy"
	"sdhost/metrics"
	"sdhost/pipeline"
	"sdhost/session"
	"sdhost/shutdown"
)

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil {
		// Logger is not up yet.
		fmt.Printf("no .env file loaded: %v\n", err)
	}

	cfg := loadConfig()

	logger, err := logging.NewLogger(cfg.DevMode, cfg.LogFile)
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		return exitCodeError
	}

	sessCfg, err := sessionConfig(cfg)
	if err != nil {
		logger.Error("invalid session configuration", zap.Error(err))
		return exitCodeError
	}

	alloc := memorypolicy.Device()
	preset, err := applyMemoryPreset(alloc, cfg.MemoryPreset)
	if err != nil {
		logger.Error("failed to apply memory policy", zap.Error(err))
		return exitCodeError
	}

	printBanner(cfg, sessCfg, preset, alloc)

	logger.Info("host starting",
		zap.String("model_id", cfg.ModelID),
		zap.String("revision", cfg.ModelRevision),
		zap.String("dtype", cfg.DType),
		zap.String("session_preset", cfg.SessionPreset),
		zap.String("memory_preset", preset.String()),
		zap.Bool("release_after_encoding", sessCfg.ReleaseAfterEncoding),
		zap.Int("max_cache_entries", sessCfg.MaxCacheEntries))

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		logger.Error("failed to create output directory", zap.Error(err))
		return exitCodeError
	}

	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		logger.Error("failed to open run ledger", zap.Error(err))
		return exitCodeError
	}
	recorder := history.NewAsyncRecorder(store, logger.Zap())
	recorder.Start()

	if cfg.WeightsPath != "" {
		if err := pipeline.VerifyWeights(cfg.WeightsPath, cfg.WeightsSHA256); err != nil {
			logger.Error("weights verification failed", zap.Error(err))
			return exitCodeError
		}
	}

	pipe := pipeline.NewStubPipeline(cfg.ModelID)
	sess, err := session.New(pipe,
		session.ModelInfo{
			ModelID:        cfg.ModelID,
			Revision:       cfg.ModelRevision,
			QuantizationID: cfg.QuantizationID,
			DType:          cfg.DType,
		},
		sessCfg, alloc,
		session.WithLogger(logger.Zap()),
		session.WithRecorder(recorder),
	)
	if err != nil {
		logger.Error("failed to create session", zap.Error(err))
		return exitCodeError
	}

	// Under pressure, drop both the device-side cache and the host-side
	// encoding cache.
	watcherCfg := metrics.DefaultWatcherConfig()
	watcherCfg.SampleInterval = cfg.SampleInterval
	watcher := metrics.NewWatcher(alloc, watcherCfg, func(s metrics.Sample) {
		logger.Warn("device memory pressure, clearing caches",
			zap.String("usage", memorypolicy.FormatBytes(s.UsageBytes)))
		memorypolicy.ClearCache(alloc)
		sess.ClearCache()
	}, logger.Zap())

	mgr := shutdown.NewManager(logger.Zap(), shutdown.WithTimeout(cfg.ShutdownTimeout))
	mgr.Register("logs", 0, func(context.Context) error {
		logger.Sync()
		return nil
	})
	mgr.Register("pressure-watcher", 10, func(context.Context) error {
		watcher.Stop()
		return nil
	})
	mgr.Register("run-ledger", 20, func(context.Context) error {
		if !recorder.StopWithTimeout(history.DefaultDrainTimeout) {
			return errors.New("run ledger drain timed out")
		}
		return store.Close()
	})
	mgr.Register("pipeline", 30, func(context.Context) error {
		sess.ReleaseEncoders()
		return nil
	})
	mgr.Register("partial-outputs", 45,
		shutdown.CleanupPartialOutputs(logger.Zap(), cfg.OutputDir))
	mgr.Start()

	watcher.Start(mgr.Context())

	prompts := os.Args[1:]
	if len(prompts) == 0 {
		prompts = []string{
			"a lighthouse in heavy fog, oil painting",
			"a lighthouse in heavy fog, oil painting",
			"macro photo of a beetle on wet leaves",
		}
	}

	code := exitCodeSuccess
	for i, prompt := range prompts {
		if err := generateOne(mgr, sess, cfg.OutputDir, prompt, i); err != nil {
			if errors.Is(err, shutdown.ErrTrackerClosed) || errors.Is(err, context.Canceled) {
				break
			}
			color.Red("  generation failed: %v", err)
			logger.Error("generation failed",
				zap.String("prompt", prompt),
				zap.Error(err))
			code = exitCodeError
		}
	}

	// Flush the ledger so the freshly recorded runs are queryable.
	recorder.StopWithTimeout(history.DefaultDrainTimeout)
	printRecentRuns(store)

	if err := mgr.Shutdown(); err != nil {
		logger.Error("shutdown finished with errors", zap.Error(err))
		return exitCodeError
	}
	return code
}

// sessionConfig resolves the session configuration: an explicit YAML
// file wins over the named preset.
func sessionConfig(cfg *Config) (session.Config, error) {
	if cfg.SessionConfigFile != "" {
		return session.LoadConfigFile(cfg.SessionConfigFile)
	}
	return session.PresetConfig(cfg.SessionPreset)
}

// applyMemoryPreset configures the device cache ceiling. "auto" picks
// the preset recommended for the device's total memory.
func applyMemoryPreset(alloc memorypolicy.Allocator, name string) (memorypolicy.Preset, error) {
	if name == "" || name == "auto" {
		return memorypolicy.ApplyRecommended(alloc)
	}
	preset, err := memorypolicy.ParsePreset(name)
	if err != nil {
		return 0, err
	}
	return preset, memorypolicy.ApplyPolicy(alloc, memorypolicy.Policy{Preset: preset})
}

func printBanner(cfg *Config, sessCfg session.Config, preset memorypolicy.Preset, alloc memorypolicy.Allocator) {
	header := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)

	header.Println("sdhost")
	dim.Printf("  model    %s@%s (%s, %s)\n",
		cfg.ModelID, cfg.ModelRevision, cfg.QuantizationID, cfg.DType)
	dim.Printf("  session  release_after_encoding=%t max_cache_entries=%d\n",
		sessCfg.ReleaseAfterEncoding, sessCfg.MaxCacheEntries)

	if total, err := alloc.TotalMemory(); err == nil {
		dim.Printf("  memory   %s preset, %s total\n",
			preset, memorypolicy.FormatBytes(total))
	} else {
		dim.Printf("  memory   %s preset\n", preset)
	}
}

// generateOne runs a single prompt as a tracked operation so shutdown
// can drain it, then writes the result to the output directory.
func generateOne(mgr *shutdown.Manager, sess *session.Session, outputDir, prompt string, index int) error {
	return mgr.Track(mgr.Context(), "generate", func(ctx context.Context) error {
		params := pipeline.DefaultParams()
		params.Prompt = prompt

		start := time.Now()
		img, err := sess.Generate(ctx, params, sess.Model().ModelID, -1)
		if err != nil {
			return err
		}

		path, err := writeOutput(outputDir, index, img)
		if err != nil {
			return err
		}

		color.Green("  [%d] %dx%d image in %v", index+1, img.Width, img.Height,
			time.Since(start).Round(time.Millisecond))
		color.New(color.FgHiBlack).Printf("      %q -> %s, cached encodings: %d\n",
			prompt, path, sess.CacheLen())
		return nil
	})
}

// writeOutput encodes the image and writes it through a .partial file
// so an interrupted write never leaves a truncated PNG behind.
func writeOutput(dir string, index int, img *pipeline.Image) (string, error) {
	data, err := pipeline.EncodePNG(img)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("gen-%03d.png", index+1))
	tmp := path + ".partial"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

func printRecentRuns(store *history.Store) {
	runs, err := store.RecentRuns(5)
	if err != nil || len(runs) == 0 {
		return
	}

	color.New(color.FgCyan, color.Bold).Println("recent runs")
	for _, r := range runs {
		status := color.GreenString("ok")
		if r.Err != "" {
			status = color.RedString(r.Err)
		}
		hit := " "
		if r.CacheHit {
			hit = "*"
		}
		fmt.Printf("  #%-4d %s seed=%-20d steps=%-3d %6s %s %s\n",
			r.ID, r.PromptDigest, r.Seed, r.Steps,
			r.Duration.Round(time.Millisecond), hit, status)
	}
}
