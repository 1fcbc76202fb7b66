package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/nixlim/durtop/internal/events"
	"github.com/nixlim/durtop/internal/processor"
)

// runCheck loads and validates the config at path, builds every tracker and
// prints a summary of the configured alerts.
//
// Exit codes:
//   - 0: config is valid
//   - 1: config or alert error
func runCheck(path string, stdout, stderr io.Writer) int {
	loadResult, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	for _, w := range loadResult.Warnings {
		fmt.Fprintf(stderr, "Config warning: %s\n", w)
	}

	cfg := loadResult.Config
	proc, err := processor.New(cfg.Alerts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ALERT\tSTART\tSTOP\tCONDITION\tWINDOW\tTHRESHOLD\tREFRACTORY\tKEY")
	for _, a := range cfg.Alerts {
		cond := "-"
		if a.HasCondition() {
			cond = a.ConditionTrueEvent + "/" + a.ConditionFalseEvent
		}
		spec := a.Spec()
		key := strings.Join(a.Dimensions, "/")
		if len(a.ConditionDimensions) > 0 {
			key += " [" + strings.Join(a.ConditionDimensions, "/") + "]"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dx%s\t%s\t%ds\t%s\n",
			a.Name, a.StartEvent, a.StopEvent, cond,
			spec.NumBuckets, events.FormatDuration(spec.BucketSize),
			events.FormatDuration(spec.Threshold),
			spec.RefractoryPeriodSec,
			key)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "\n%d alert(s), listening for %d event name(s) on grpc:%d http:%d\n",
		len(cfg.Alerts), len(proc.Events()), cfg.Receiver.GRPCPort, cfg.Receiver.HTTPPort)
	return 0
}
