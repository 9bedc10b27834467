// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pipelinecore/engine/internal/pipelog"
	"github.com/pipelinecore/engine/internal/pipeline"
	"github.com/pipelinecore/engine/internal/pipeline/loader"
)

// runCmd executes a pipeline definition from a fresh root Context.
func runCmd() *cobra.Command {
	var debug bool
	var timeoutMs int64

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Execute a pipeline definition from the beginning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := pipelog.New("cmd")

			p, err := loader.LoadFile(args[0])
			if err != nil {
				return fmt.Errorf("loading pipeline: %w", err)
			}

			exec := pipeline.NewExecutor()
			opts := pipeline.ExecuteOptions{
				WorkspaceDir:  viper.GetString("workspace_dir"),
				CheckpointDir: viper.GetString("checkpoint_dir"),
				TimeoutMs:     timeoutMs,
				Debug:         debug,
				Pipelines:     loader.NewFileLoader("."),
				Providers:     pipeline.NewProviderRegistry(),
				OnLog: func(level, msg string, fields map[string]interface{}) {
					log.Info(p.Name, "", "", fmt.Sprintf("[%s] %s", level, msg), fields)
				},
			}

			result, err := exec.Execute(context.Background(), p, opts)
			if err != nil {
				printResult(result, err)
				return err
			}
			return printResult(result, nil)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "emit verbose execution logs")
	cmd.Flags().Int64Var(&timeoutMs, "timeout-ms", 0, "override the pipeline's safety timeout in milliseconds")
	return cmd
}

func printResult(result *pipeline.ExecuteResult, runErr error) error {
	if result == nil {
		return runErr
	}
	out := map[string]interface{}{
		"trace_id": result.TraceID,
		"results":  result.Results,
		"summary":  result.Summary,
	}
	if runErr != nil {
		if pe, ok := pipeline.AsError(runErr); ok {
			out["error"] = map[string]interface{}{
				"kind": pe.Kind, "message": pe.Message, "chain": pe.Chain, "step": pe.Step,
			}
		} else {
			out["error"] = runErr.Error()
		}
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
