// Package cmd implements the teachable command line.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "teachable",
	Short: "Teach a camera to recognize things",
	Long: `teachable collects webcam examples per label, trains a small classifier
on top of a pretrained image backbone and predicts the label of every live frame.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default teachable.yaml, or $TEACH_CONFIG)")
}
