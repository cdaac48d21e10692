package main

import "github.com/spf13/cobra"

var (
	stageConfigFile string
)

var rootCmd = &cobra.Command{
	Use: "spatialqc-api",
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)

	rootCmd.PersistentFlags().StringVarP(&stageConfigFile, "stage-config", "c", "", "Path to the stage configuration file")
}
