package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"buildq/internal/api"
	"buildq/internal/config"
	"buildq/internal/gitsync"
	"buildq/internal/pipeline"
	"buildq/internal/registry"
	"buildq/internal/runner"
	"buildq/internal/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the build service",
		RunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			if err := os.MkdirAll(cfg.LogsDir, 0o755); err != nil {
				return fmt.Errorf("create logs dir: %w", err)
			}
			logFile, err := os.OpenFile(
				filepath.Join(cfg.LogsDir, "build_service.log"),
				os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644,
			)
			if err != nil {
				return fmt.Errorf("open service log: %w", err)
			}
			defer logFile.Close()

			logger := zerolog.New(zerolog.MultiLevelWriter(
				zerolog.ConsoleWriter{Out: os.Stderr},
				logFile,
			)).With().Timestamp().Logger()
			log.Logger = logger

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := registry.New()
			run := runner.New(logger.With().Str("component", "runner").Logger())
			sync := gitsync.New(run, gitsync.Config{
				RepoPath: cfg.RepoPath,
				Timeout:  cfg.GitTimeout,
			}, logger.With().Str("component", "gitsync").Logger())
			pipe := pipeline.New(run, pipeline.Config{
				Steps:        buildSteps(cfg),
				ProjectDir:   cfg.ProjectPath,
				ArtifactsDir: cfg.ArtifactsDir,
				ArtifactExt:  cfg.ArtifactExt,
				StepTimeout:  cfg.BuildTimeout,
			}, logger.With().Str("component", "pipeline").Logger())

			w := worker.New(reg, sync, pipe, logger.With().Str("component", "worker").Logger())
			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("worker stopped with error")
				}
			}()

			logger.Info().
				Str("repo", cfg.RepoPath).
				Str("project", cfg.ProjectPath).
				Str("artifacts", cfg.ArtifactsDir).
				Str("logs", cfg.LogsDir).
				Msg("build service starting")

			server := api.NewServer(api.Deps{
				Registry:     reg,
				Head:         sync,
				ArtifactsDir: cfg.ArtifactsDir,
				ArtifactExt:  cfg.ArtifactExt,
				LogsDir:      cfg.LogsDir,
			}, logger)
			server.Run(ctx, cfg.Host, cfg.Port)
			return nil
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 1234, "Port to run the server on")
	return command
}

// buildSteps keeps the configured command strings as display names and
// splits them into argv form so no shell is ever involved.
func buildSteps(cfg *config.Config) []pipeline.Step {
	var steps []pipeline.Step
	for _, cmd := range []string{cfg.InstallCmd, cfg.BuildCmd, cfg.PackageCmd} {
		steps = append(steps, pipeline.Step{Name: cmd, Argv: strings.Fields(cmd)})
	}
	return steps
}
