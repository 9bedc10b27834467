// Package main implements the pipeline CLI for running, resuming and
// inspecting pipeline executions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "pipeline",
		Short:   "Pipeline execution engine CLI",
		Long:    `pipeline runs declarative YAML pipelines that chain provider calls, tool invocations, transforms and nested pipelines.`,
		Version: version,
	}

	rootCmd.PersistentFlags().String("config", "", "config file (default: $HOME/.pipeline.yaml)")
	rootCmd.PersistentFlags().String("checkpoint-dir", "", "directory for checkpoint files")
	rootCmd.PersistentFlags().String("workspace-dir", "", "workspace directory for file_ops and output_to_file")
	viper.BindPFlag("checkpoint_dir", rootCmd.PersistentFlags().Lookup("checkpoint-dir"))
	viper.BindPFlag("workspace_dir", rootCmd.PersistentFlags().Lookup("workspace-dir"))

	cobra.OnInitialize(func() {
		if cfg, _ := rootCmd.PersistentFlags().GetString("config"); cfg != "" {
			viper.SetConfigFile(cfg)
		} else {
			viper.SetConfigName(".pipeline")
			viper.AddConfigPath("$HOME")
			viper.AddConfigPath(".")
		}
		viper.SetEnvPrefix("PIPELINE")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()
	})

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(inspectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
