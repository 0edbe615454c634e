// Copyright 2025 Microsoft Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dusted-go/logging/prettylog"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Azure/ARO-HCP/tooling/image-resync/cmd/run"
)

const (
	logFormatPretty = "pretty"
	logFormatJSON   = "json"
)

func main() {
	// Create a root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := createPrettyLogger(0)

	var (
		logVerbosity int
		logFormat    string
	)
	rootCmd := &cobra.Command{
		Use:   "image-resync",
		Short: "Keeps a local store of container images in step with a public registry namespace",
		Long: `image-resync lists the repositories of a registry namespace, resolves the most recently
modified tag of each, and requests a rebuild for every image that is missing from local storage.`,
		SilenceUsage:     true,
		SilenceErrors:    true,
		TraverseChildren: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = createLogger(logFormat, logVerbosity)
			if err != nil {
				return err
			}
			cmd.SetContext(logr.NewContext(cmd.Context(), logger))
			return nil
		},
	}
	rootCmd.PersistentFlags().IntVarP(&logVerbosity, "verbosity", "v", 0, "set the verbosity level")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logFormatPretty, "log format: pretty or json")

	runCmd, err := run.NewCommand()
	if err != nil {
		logger.Error(err, "failed to create command")
		os.Exit(1)
	}
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error(err, "command failed")
		os.Exit(1)
	}
}

func createLogger(format string, verbosity int) (logr.Logger, error) {
	switch format {
	case logFormatPretty:
		return createPrettyLogger(verbosity), nil
	case logFormatJSON:
		return createJSONLogger(verbosity)
	default:
		return logr.Discard(), fmt.Errorf("invalid log format %q: must be one of %s, %s", format, logFormatPretty, logFormatJSON)
	}
}

func createPrettyLogger(verbosity int) logr.Logger {
	prettyHandler := prettylog.New(&slog.HandlerOptions{
		Level:       slog.Level(verbosity * -1),
		AddSource:   false,
		ReplaceAttr: nil,
	}, prettylog.WithDestinationWriter(os.Stderr))
	return logr.FromSlogHandler(prettyHandler)
}

// createJSONLogger is meant for the actor runtime, where logs are collected line by line.
func createJSONLogger(verbosity int) (logr.Logger, error) {
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(zapcore.Level(verbosity * -1))
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)

	zapLogger, err := loggerConfig.Build()
	if err != nil {
		return logr.Discard(), fmt.Errorf("failed to build logger: %w", err)
	}
	return zapr.NewLogger(zapLogger), nil
}
