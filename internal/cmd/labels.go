package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-teachable/internal/config"
	"github.com/teslashibe/go-teachable/pkg/classifier"
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Print the configured label set",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.FileFromEnv(configFile), nil)
		if err != nil {
			return err
		}
		set, err := cfg.LabelSet()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, l := range set.All() {
			fmt.Fprintf(out, "%d\t%s\n", l.Index, l.Name)
		}
		kind := "multi-class"
		if set.Binary() {
			kind = "binary"
		}
		fmt.Fprintf(out, "%d labels, %s, %s\n", set.Len(), kind, classifier.LossFor(set.Len()).Name())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
}
