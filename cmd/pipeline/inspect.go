// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pipelinecore/engine/internal/pipeline"
)

// inspectCmd prints the most recent checkpoint for a pipeline id,
// the offline counterpart to the §6.5 debug surface (which queries a
// live run's in-memory span tree).
func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <pipeline-id>",
		Short: "Print the latest checkpoint recorded for a pipeline id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checkpointDir := viper.GetString("checkpoint_dir")
			if checkpointDir == "" {
				return fmt.Errorf("inspect requires --checkpoint-dir")
			}

			store, err := pipeline.NewCheckpointStore(checkpointDir)
			if err != nil {
				return err
			}
			cp, err := store.ReadLatest(args[0])
			if err != nil {
				return err
			}
			if cp == nil {
				fmt.Println("no checkpoint found")
				return nil
			}

			b, err := json.MarshalIndent(cp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		},
	}
	return cmd
}
