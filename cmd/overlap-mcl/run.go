package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/overlap-mcl/internal/config"
	"github.com/banshee-data/overlap-mcl/internal/db"
	"github.com/banshee-data/overlap-mcl/internal/fsutil"
	"github.com/banshee-data/overlap-mcl/internal/mcl"
	"github.com/banshee-data/overlap-mcl/internal/mcl/localiser"
	"github.com/banshee-data/overlap-mcl/internal/mcl/publish"
	"github.com/banshee-data/overlap-mcl/internal/mcl/report"
	"github.com/banshee-data/overlap-mcl/internal/mcl/volume"
	"github.com/banshee-data/overlap-mcl/internal/version"
)

type runFlags struct {
	configPath      string
	dbPath          string
	plotPath        string
	errorPlotPath   string
	geojsonPath     string
	mqttBroker      string
	mqttPrefix      string
	recordParticles bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Localise the query trajectory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runLocalisation(ctx, cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", "", "Tuning config file (.json, .yaml)")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "SQLite results database (optional)")
	cmd.Flags().StringVar(&f.plotPath, "plot", "", "Write the trajectory plot to this PNG")
	cmd.Flags().StringVar(&f.errorPlotPath, "error-plot", "", "Write the location error plot to this PNG")
	cmd.Flags().StringVar(&f.geojsonPath, "geojson", "", "Write the trajectory as GeoJSON")
	cmd.Flags().StringVar(&f.mqttBroker, "mqtt-broker", "", "Publish poses to this MQTT broker, e.g. tcp://localhost:1883")
	cmd.Flags().StringVar(&f.mqttPrefix, "mqtt-prefix", "overlap-mcl", "MQTT topic prefix")
	cmd.Flags().BoolVar(&f.recordParticles, "record-particles", false, "Store a particle snapshot with every frame")
	cmd.MarkFlagRequired("config")
	return cmd
}

func loadConfig(path string) (*config.TuningConfig, error) {
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runLocalisation(ctx context.Context, cmd *cobra.Command, f runFlags) error {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	p, err := mcl.Open(ctx, cfg, mcl.Options{RecordParticles: f.recordParticles})
	if err != nil {
		return err
	}
	defer p.Close()
	if err := p.LoadMap(); err != nil {
		return err
	}

	var recorders []localiser.Recorder
	var collector *report.TrajectoryCollector
	if f.plotPath != "" || f.errorPlotPath != "" || f.geojsonPath != "" {
		collector = report.NewTrajectoryCollector(cfg.GetResolution(), p.Index.Coords())
		recorders = append(recorders, collector)
	}

	var store *db.DB
	var runID string
	if f.dbPath != "" {
		store, err = db.NewDB(f.dbPath)
		if err != nil {
			return fmt.Errorf("open results database: %w", err)
		}
		defer store.Close()
		params, err := json.Marshal(map[string]interface{}{
			"version": version.Version,
			"git_sha": version.GitSHA,
			"config":  cfg,
		})
		if err != nil {
			return err
		}
		run := &db.Run{
			MapSequence:   cfg.GetMapSequence(),
			QuerySequence: cfg.GetQuerySequence(),
			NumParticles:  cfg.GetNumParticles(),
			Resolution:    cfg.GetResolution(),
			UseYaw:        p.Model.UsesYaw(),
			ParamsJSON:    params,
		}
		if err := store.CreateRun(run); err != nil {
			return err
		}
		runID = run.RunID
		recorders = append(recorders, db.NewFrameRecorder(store, runID, cfg.GetResolution()))
		mcl.Opsf("recording run %s to %s", runID, f.dbPath)
	}

	var pub *publish.Publisher
	if f.mqttBroker != "" {
		clientID := "overlap-mcl-" + runID
		if runID == "" {
			clientID = fmt.Sprintf("overlap-mcl-%d", os.Getpid())
		}
		client, err := publish.Connect(f.mqttBroker, clientID, 10*time.Second)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		pub = publish.NewPublisher(client, publish.Options{Prefix: f.mqttPrefix, RunID: runID, Resolution: cfg.GetResolution()})
		recorders = append(recorders, pub)
	}

	loc, err := p.NewLocaliser(recorders...)
	if err != nil {
		return err
	}
	start := time.Now()
	sum, err := loc.Run(ctx)
	p.LogStatistics()
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.FinishRun(runID, sum); err != nil {
			return err
		}
	}
	if pub != nil {
		mcl.Opsf("mqtt: published=%d dropped=%d", pub.Published(), pub.Dropped())
	}

	if collector != nil {
		if f.plotPath != "" || f.errorPlotPath != "" {
			if err := collector.SavePlots(f.plotPath, f.errorPlotPath); err != nil {
				return err
			}
		}
		if f.geojsonPath != "" {
			if err := collector.WriteGeoJSON(fsutil.OSFileSystem{}, f.geojsonPath); err != nil {
				return err
			}
		}
	}

	printSummary(cmd, sum, time.Since(start))
	return nil
}

func printSummary(cmd *cobra.Command, sum localiser.Summary, elapsed time.Duration) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "frames:        %d (%d observed) in %s\n", sum.Frames, sum.Observations, elapsed.Round(time.Millisecond))
	if sum.ConvergedAt >= 0 {
		fmt.Fprintf(out, "converged at:  frame %d\n", sum.ConvergedAt)
	} else {
		fmt.Fprintln(out, "converged at:  never")
	}
	fmt.Fprintf(out, "final error:   %s\n", metres(sum.FinalError))
	fmt.Fprintf(out, "mean error:    %s\n", metres(sum.MeanError))
	if !math.IsNaN(sum.MeanYawError) {
		fmt.Fprintf(out, "mean yaw err:  %.2f deg\n", math.Abs(sum.MeanYawError)*180/math.Pi)
	}
}

func metres(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.3f m", v)
}

func newVolumesCmd() *cobra.Command {
	var configPath, kind string
	cmd := &cobra.Command{
		Use:   "volumes",
		Short: "Precompute and persist feature volumes for the map or query sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			var k volume.Kind
			switch strings.ToLower(kind) {
			case "map":
				k = volume.KindCell
			case "query":
				k = volume.KindFrame
			default:
				return fmt.Errorf("--kind must be map or query, got %q", kind)
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			p, err := mcl.Open(ctx, cfg, mcl.Options{})
			if err != nil {
				return err
			}
			defer p.Close()
			n, err := p.GenerateVolumes(ctx, k)
			p.LogStatistics()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s volumes ready\n", n, kind)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Tuning config file (.json, .yaml)")
	cmd.Flags().StringVar(&kind, "kind", "map", "Volumes to generate: map or query")
	cmd.MarkFlagRequired("config")
	return cmd
}
