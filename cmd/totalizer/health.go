package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m3047/totalizer/internal/health"
)

var (
	flagHealthKey   string
	flagExpectValue string
	flagNoCheck     bool
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that every instance behind the fanout answers and validates",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg, engine, reader, err := clientSetup()
		if err != nil {
			return err
		}
		defer reader.Close()

		expect := health.ExpectFanoutName()
		switch {
		case flagNoCheck:
			expect = health.ExpectNoCheck()
		case flagExpectValue != "":
			expect = health.ExpectLiteral(flagExpectValue)
		}

		statuses, err := health.Check(cmd.Context(), engine, reader, cfg.Fanout, flagHealthKey, expect)
		if err != nil {
			return err
		}

		width := 0
		for _, status := range statuses {
			if len(status.Endpoint) > width {
				width = len(status.Endpoint)
			}
		}
		for _, status := range statuses {
			fmt.Printf("%-*s [%s] [%s]\n", width, status.Endpoint,
				marker(status.Readable, "KEY"), marker(status.Valid, "VAL"))
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&flagHealthKey, "key", health.DefaultKey, "backend key to read")
	healthCmd.Flags().StringVar(&flagExpectValue, "expect-value", "", "fixed value expected from every instance")
	healthCmd.Flags().BoolVar(&flagNoCheck, "no-check", false, "only check readability, ignore the value")
}

func marker(ok bool, label string) string {
	if ok {
		return label
	}
	return "   "
}
