package main

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"gaugeconv/internal/config"
	"gaugeconv/internal/sim"
)

// selftestTolerance is the largest relative error between the measured
// output frequency and the target that still passes.
const selftestTolerance = 0.02

func runSelftest(cfg config.Config, w io.Writer) (bool, error) {
	cc, err := convertConfig(cfg)
	if err != nil {
		return false, err
	}
	sc, err := loadScenario(cfg)
	if err != nil {
		return false, err
	}
	bench, err := sim.NewBench(sim.BenchConfig{
		Convert:  cc,
		Channels: channelConfigs(cfg),
		Scenario: sc,
	})
	if err != nil {
		return false, err
	}
	res := bench.RunScenario()
	return writeSelftestReport(w, res), nil
}

// channelPasses reports whether a channel's output matches its target.
func channelPasses(ch sim.ChannelResult) bool {
	if ch.TargetHz == 0 {
		return ch.Toggles == 0
	}
	if ch.Toggles == 0 {
		return false
	}
	return math.Abs(ch.MeasuredHz-float64(ch.TargetHz)) <= selftestTolerance*float64(ch.TargetHz)
}

func writeSelftestReport(w io.Writer, res sim.Result) bool {
	_, _ = fmt.Fprintf(w, "scenario=%q elapsed=%s ticks=%d\n", res.Scenario, res.Elapsed, res.Ticks)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CHANNEL\tINPUT_HZ\tTARGET_HZ\tMEASURED_HZ\tSTDDEV_HZ\tMAX_GAP\tFORCED\tRESULT")
	ok := true
	for _, ch := range res.Channels {
		verdict := "ok"
		if !channelPasses(ch) {
			verdict = "FAIL"
			ok = false
		}
		_, _ = fmt.Fprintf(tw, "%s\t%.1f\t%d\t%.2f\t%.3f\t%d\t%d\t%s\n",
			ch.Name, ch.InputHz, ch.TargetHz, ch.MeasuredHz, ch.StdDevHz, ch.MaxGapTicks, ch.Forced, verdict)
	}
	_ = tw.Flush()
	return ok
}
