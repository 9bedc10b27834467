// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pipelinecore/engine/internal/pipelog"
	"github.com/pipelinecore/engine/internal/pipeline"
	"github.com/pipelinecore/engine/internal/pipeline/loader"
)

// resumeCmd re-enters a pipeline from its most recent checkpoint.
func resumeCmd() *cobra.Command {
	var token, signingKey string
	cmd := &cobra.Command{
		Use:   "resume <pipeline.yaml>",
		Short: "Resume a pipeline execution from its last checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := pipelog.New("cmd")

			p, err := loader.LoadFile(args[0])
			if err != nil {
				return fmt.Errorf("loading pipeline: %w", err)
			}

			if err := verifyResumeToken(token, signingKey, p.Name); err != nil {
				return err
			}

			checkpointDir := viper.GetString("checkpoint_dir")
			if checkpointDir == "" {
				return fmt.Errorf("resume requires --checkpoint-dir")
			}

			exec := pipeline.NewExecutor()
			opts := pipeline.ExecuteOptions{
				WorkspaceDir:  viper.GetString("workspace_dir"),
				CheckpointDir: checkpointDir,
				Resume:        true,
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
	cmd.Flags().StringVar(&token, "token", "", "bearer token authorizing this resume (required when --signing-key is set)")
	cmd.Flags().StringVar(&signingKey, "signing-key", "", "HMAC key required to verify --token; resume is unauthenticated if unset")
	return cmd
}
