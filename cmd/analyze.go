package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"voice-risk-service/internal/models"
	"voice-risk-service/internal/observability/logging"
	"voice-risk-service/internal/observability/metrics"
	"voice-risk-service/internal/service/audio"
	"voice-risk-service/internal/service/session"
	"voice-risk-service/internal/service/textrisk"
)

type analyzeOptions struct {
	audioPath      string
	transcriptPath string
	patternsPath   string
	locale         string
	tick           time.Duration
	fftSize        int
	asJSON         bool
}

func newAnalyzeCmd() *cobra.Command {
	o := analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Replay a recorded call and print its risk timeline",
		Long: `Replays a 16-bit mono WAV recording and an optional transcript script
through the scoring pipeline on a simulated clock.

Transcript script lines are "<offsetMs> <text>"; prefix the text with "~"
for an interim chunk.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd.OutOrStdout(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.audioPath, "audio", "", "WAV file (16-bit mono PCM)")
	f.StringVar(&o.transcriptPath, "transcript", "", "transcript script file")
	f.StringVar(&o.patternsPath, "patterns", "", "YAML pattern table overrides")
	f.StringVar(&o.locale, "locale", string(models.DefaultLocale), "call locale (en-US, es-ES, fr-FR)")
	f.DurationVar(&o.tick, "tick", session.DefaultTickInterval, "analysis tick interval")
	f.IntVar(&o.fftSize, "fft-size", 2048, "analyser FFT size")
	f.BoolVar(&o.asJSON, "json", false, "print one JSON object per update")
	_ = cmd.MarkFlagRequired("audio")
	return cmd
}

func runAnalyze(out io.Writer, o analyzeOptions) error {
	tables, err := textrisk.LoadTablesFile(o.patternsPath)
	if err != nil {
		return err
	}

	f, err := os.Open(o.audioPath)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	format, pcm, err := audio.ReadWAV(f)
	if err != nil {
		return err
	}

	var script []session.TimedTranscript
	if o.transcriptPath != "" {
		tf, err := os.Open(o.transcriptPath)
		if err != nil {
			return fmt.Errorf("open transcript: %w", err)
		}
		script, err = session.ParseTranscriptScript(tf)
		tf.Close()
		if err != nil {
			return fmt.Errorf("transcript %s: %w", o.transcriptPath, err)
		}
	}

	cfg := session.DefaultConfig()
	cfg.ID = "analyze"
	cfg.Locale = models.ParseLocale(o.locale)
	cfg.Alert.SpokenEnabled = true
	cfg.Analyser.SampleRateHz = int(format.SampleRateHz)
	cfg.Analyser.FFTSize = o.fftSize
	cfg.TickInterval = o.tick

	logCfg := logging.DefaultConfig()
	logCfg.Format = "console"
	logCfg.Level = "warn"
	timeline, err := session.Replay(cfg, pcm, script,
		session.WithTables(tables),
		session.WithLogger(logging.New(os.Stderr, logCfg)),
		session.WithMetrics(metrics.NewMetricsWith(prometheus.NewRegistry())),
	)
	if err != nil {
		return err
	}

	if o.asJSON {
		enc := json.NewEncoder(out)
		for _, e := range timeline {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}
	return printTimeline(out, timeline)
}

func printTimeline(out io.Writer, timeline []session.TimelineEntry) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFSET\tSCORE\tLABEL\tSPOOF\tRATIONALE\tALERT")
	for _, e := range timeline {
		u := e.Update
		alertText := ""
		switch {
		case u.Notification != nil && u.Speech != nil:
			alertText = u.Notification.Title + " + spoken"
		case u.Notification != nil:
			alertText = u.Notification.Title
		case u.Speech != nil:
			alertText = "spoken"
		}
		fmt.Fprintf(tw, "%.2fs\t%d\t%s\t%.2f\t%s\t%s\n",
			float64(e.OffsetMs)/1000, u.Risk.Score, u.Risk.Label, u.Features.SpoofScore, u.Risk.Rationale, alertText)
	}
	return tw.Flush()
}
