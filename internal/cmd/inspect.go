package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-teachable/pkg/classifier"
	"github.com/teslashibe/go-teachable/pkg/export"
	"github.com/teslashibe/go-teachable/pkg/labels"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <bundle.zip>",
	Short: "Check an exported model bundle and print its manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		m, w, err := export.ReadBundle(data)
		if err != nil {
			return err
		}
		set, err := labels.NewSet(m.Labels)
		if err != nil {
			return fmt.Errorf("bundle labels: %w", err)
		}
		if set.Len() != w.NumClasses {
			return fmt.Errorf("bundle has %d labels but the head has %d classes", set.Len(), w.NumClasses)
		}

		cfg := classifier.DefaultConfig(w.NumClasses)
		cfg.InputDim = w.InputDim
		cfg.HiddenUnits = w.HiddenUnits
		head, err := classifier.New(cfg)
		if err != nil {
			return fmt.Errorf("bundle head: %w", err)
		}
		if err := head.LoadWeights(w); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "run %s created %s\n", m.RunID, m.CreatedAt.Format("2006-01-02 15:04:05"))
		for _, l := range set.All() {
			fmt.Fprintf(out, "%d\t%s\n", l.Index, l.Name)
		}
		fmt.Fprintf(out, "head %dx%dx%d, %s\n", w.InputDim, w.HiddenUnits, w.NumClasses, w.Loss)
		backbone := "not included"
		if m.Backbone.File != "" {
			backbone = m.Backbone.File
		}
		fmt.Fprintf(out, "backbone %s (%s)\n", m.Backbone.Source, backbone)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
