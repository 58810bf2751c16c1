package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/m3047/totalizer/internal/aggregate"
)

var (
	flagWindow    time.Duration
	flagSubWindow time.Duration
	flagTrend     bool
	flagPrefix    string
	flagMatched   string
	flagSource    string
	flagGroupBy   string
)

var totalCmd = &cobra.Command{
	Use:   "total",
	Short: "Sum matching counters across the fanout within a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		groupBy, err := groupByFor(flagGroupBy)
		if err != nil {
			return err
		}

		cfg, engine, reader, err := clientSetup()
		if err != nil {
			return err
		}
		defer reader.Close()

		client := aggregate.New(engine, reader)
		spec := aggregate.SearchSpec{Prefix: flagPrefix, Matched: flagMatched, Source: flagSource}

		subWindow := flagSubWindow
		if subWindow <= 0 {
			subWindow = flagWindow / 4
		}

		var totals, recent aggregate.Totals

		if flagTrend {
			t, r, ff, err := client.TotalWithTrend(cmd.Context(), cfg.Fanout, spec, subWindow, flagWindow, groupBy)
			if err != nil {
				return err
			}
			totals, recent = t, r
			reportFailures(ff)
		} else {
			t, ff, err := client.Total(cmd.Context(), cfg.Fanout, spec, flagWindow, groupBy)
			if err != nil {
				return err
			}
			totals = t
			reportFailures(ff)
		}

		printTotals(totals, recent, flagTrend)
		return nil
	},
}

func init() {
	totalCmd.Flags().DurationVar(&flagWindow, "window", time.Hour, "reporting window")
	totalCmd.Flags().DurationVar(&flagSubWindow, "sub-window", 0, "trend sub-window (default window/4)")
	totalCmd.Flags().BoolVar(&flagTrend, "trend", false, "include the recent/total trend column")
	totalCmd.Flags().StringVar(&flagPrefix, "prefix", "", "totalizer namespace (empty matches all)")
	totalCmd.Flags().StringVar(&flagMatched, "matched", "", "event category (empty matches all)")
	totalCmd.Flags().StringVar(&flagSource, "source", "", "producing instance (empty matches all)")
	totalCmd.Flags().StringVar(&flagGroupBy, "group-by", "matched", "combination key: matched, source, or source,matched")
}

func groupByFor(name string) (aggregate.GroupBy, error) {
	switch name {
	case "matched":
		return aggregate.ByMatched, nil
	case "source":
		return aggregate.BySource, nil
	case "source,matched":
		return aggregate.BySourceMatched, nil
	default:
		return nil, fmt.Errorf("unknown group-by %q: want matched, source, or source,matched", name)
	}
}

func printTotals(totals, recent aggregate.Totals, withTrend bool) {
	groups := make([]string, 0, len(totals))
	width := 0
	for group := range totals {
		groups = append(groups, group)
		if len(group) > width {
			width = len(group)
		}
	}
	sort.Strings(groups)

	for _, group := range groups {
		count := totals[group]
		if count == 0 {
			continue
		}
		if withTrend {
			fmt.Printf("%-*s %6d %6.2f\n", width, group, count, aggregate.Trend(count, recent[group]))
		} else {
			fmt.Printf("%-*s %6d\n", width, group, count)
		}
	}
}
