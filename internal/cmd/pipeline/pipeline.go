// Package pipeline parses pipeline command flags and composes the service
// entrypoint.
package pipeline

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/hivemind/internal/platform/cmd"
	"github.com/louisbranch/hivemind/internal/services/pipeline/app"
	"github.com/louisbranch/hivemind/internal/services/pipeline/event"
	"github.com/louisbranch/hivemind/internal/services/pipeline/execute"
	"github.com/louisbranch/hivemind/internal/services/pipeline/executor"
	"github.com/louisbranch/hivemind/internal/services/pipeline/moderator"
	"github.com/louisbranch/hivemind/internal/services/pipeline/storage/sqlite"
	"github.com/louisbranch/hivemind/internal/services/pipeline/synth"
	"github.com/louisbranch/hivemind/internal/services/pipeline/transform"
)

// Config holds pipeline command configuration.
type Config struct {
	HTTPAddr        string        `env:"HIVEMIND_PIPELINE_HTTP_ADDR"       envDefault:":8080"`
	DBPath          string        `env:"HIVEMIND_PIPELINE_DB_PATH"         envDefault:"pipeline.db"`
	OutputDir       string        `env:"HIVEMIND_PIPELINE_OUTPUT_DIR"      envDefault:"agent_output"`
	BatchThreshold  int           `env:"HIVEMIND_PIPELINE_BATCH_THRESHOLD" envDefault:"5"`
	PollDuration    time.Duration `env:"HIVEMIND_PIPELINE_POLL_DURATION"   envDefault:"15s"`
	MaxBacklog      int           `env:"HIVEMIND_PIPELINE_MAX_BACKLOG"     envDefault:"50"`
	PerSubmitterCap int           `env:"HIVEMIND_PIPELINE_SUBMITTER_CAP"   envDefault:"1"`
	TransformURL    string        `env:"HIVEMIND_TRANSFORM_URL"`
	TransformAPIKey string        `env:"HIVEMIND_TRANSFORM_API_KEY"`
	ExecutorURL     string        `env:"HIVEMIND_EXECUTOR_URL"`
	EventBuffer     int           `env:"HIVEMIND_PIPELINE_EVENT_BUFFER"    envDefault:"64"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "pipeline HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite database path")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "directory for agent output files")
	fs.IntVar(&cfg.BatchThreshold, "batch-threshold", cfg.BatchThreshold, "queued prompts that trigger a poll")
	fs.DurationVar(&cfg.PollDuration, "poll-duration", cfg.PollDuration, "how long each poll stays open")
	fs.IntVar(&cfg.MaxBacklog, "max-backlog", cfg.MaxBacklog, "maximum queued prompts")
	fs.IntVar(&cfg.PerSubmitterCap, "submitter-cap", cfg.PerSubmitterCap, "queued prompts allowed per submitter")
	fs.StringVar(&cfg.TransformURL, "transform-url", cfg.TransformURL, "text transform service URL (empty uses the local fallback)")
	fs.StringVar(&cfg.ExecutorURL, "executor-url", cfg.ExecutorURL, "remote sandbox URL (empty executes locally)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run assembles the pipeline and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServicePipeline, func(context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open pipeline storage: %w", err)
		}
		defer store.Close()

		var transformer transform.Transformer = transform.Fallback{}
		if strings.TrimSpace(cfg.TransformURL) != "" {
			transformer = transform.NewClient(cfg.TransformURL, cfg.TransformAPIKey)
		}

		var exec execute.Executor
		if strings.TrimSpace(cfg.ExecutorURL) != "" {
			exec = executor.NewRemote(cfg.ExecutorURL)
		} else {
			local, err := executor.NewLocal(cfg.OutputDir)
			if err != nil {
				return fmt.Errorf("init local executor: %w", err)
			}
			exec = local
		}

		grantCfg, err := moderator.LoadGrantConfigFromEnv(nil)
		if err != nil {
			return fmt.Errorf("load moderator grant config: %w", err)
		}

		bus := event.NewBus(cfg.EventBuffer)
		coordinator := execute.NewCoordinator(exec, store, bus)
		pipeline := app.NewPipeline(app.PipelineConfig{
			BatchThreshold:  cfg.BatchThreshold,
			PollDuration:    cfg.PollDuration,
			MaxBacklog:      cfg.MaxBacklog,
			PerSubmitterCap: cfg.PerSubmitterCap,
		}, synth.New(transformer), coordinator, store, store, bus)

		server, err := app.NewServer(app.ServerConfig{HTTPAddr: cfg.HTTPAddr}, pipeline, grantCfg, bus)
		if err != nil {
			return fmt.Errorf("init pipeline server: %w", err)
		}
		if err := server.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("serve pipeline: %w", err)
		}
		return nil
	})
}
