// Command fds-train captures labelled keypoint vectors from a sensor and
// appends them to the training set used by the fall classifier. Run it once
// per recorded posture, e.g.
//
//	fds-train -sensor 0 -label fall -samples 10
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rania-fds/fds/internal/classify"
	"github.com/rania-fds/fds/internal/cluster"
	"github.com/rania-fds/fds/internal/config"
	"github.com/rania-fds/fds/internal/geometry"
	"github.com/rania-fds/fds/internal/monitoring"
	"github.com/rania-fds/fds/internal/sensor"
	"github.com/rania-fds/fds/internal/timeutil"
)

var (
	configPath = flag.String("config", "fds.yaml", "Path to the YAML configuration")
	sensorID   = flag.Int("sensor", 0, "ID of the sensor to capture from")
	labelName  = flag.String("label", "", "Label of the captured posture: fall or other")
	samples    = flag.Int("samples", 10, "Number of vectors to capture")
	outPath    = flag.String("out", "", "Training set file (defaults to training_path)")
	timeout    = flag.Duration("timeout", 2*time.Minute, "Give up after this long")
)

// errNotOneObject rejects captures where the scene does not hold exactly one
// foreground object.
var errNotOneObject = errors.New("capture must contain exactly one object")

func parseLabel(s string) (int, error) {
	switch s {
	case "fall":
		return classify.LabelFall, nil
	case "other":
		return classify.LabelOther, nil
	}
	return 0, fmt.Errorf("unknown label %q (want fall or other)", s)
}

func main() {
	flag.Parse()
	log := monitoring.Default()

	label, err := parseLabel(*labelName)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	sc, ok := cfg.Sensor(*sensorID)
	if !ok {
		log.Errorf("sensor %d is not configured", *sensorID)
		os.Exit(1)
	}
	path := *outPath
	if path == "" {
		path = cfg.GetTrainingPath()
	}
	k := cfg.Tuning.GetKeypoints()

	engine, err := cluster.NewEngine(cfg.Tuning.RoomOptions().Cluster)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	s, err := sensor.DefaultRegistry(nil, timeutil.RealClock{}).Open(sc.Info())
	if err != nil {
		log.Errorf("failed to open sensor %d: %v", sc.ID, err)
		os.Exit(1)
	}
	if c, ok := s.(io.Closer); ok {
		defer c.Close()
	}

	set, err := classify.LoadOrCreateTrainingSet(path, k)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	log.Infof("capturing %d %q samples from sensor %d", *samples, *labelName, sc.ID)
	n, err := capture(ctx, s, engine, &set, label, *samples, log)
	if n > 0 {
		if serr := classify.SaveTrainingSet(path, set); serr != nil {
			log.Errorf("failed to save training set: %v", serr)
			os.Exit(1)
		}
		log.Infof("added %d vectors to %s (%d total)", n, path, len(set.Vectors))
	}
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

// capture appends up to want vectors with the given label to set. Scans that
// do not hold exactly one object are skipped. It returns how many vectors
// were added.
func capture(ctx context.Context, s sensor.Sensor, engine *cluster.Engine, set *classify.TrainingSet,
	label, want int, log *monitoring.Logger) (int, error) {
	if err := s.StartScanning(ctx); err != nil {
		return 0, fmt.Errorf("failed to start scanning: %w", err)
	}
	defer s.StopScanning()

	added := 0
	for added < want {
		scan, err := s.GetRawScan(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return added, ctx.Err()
			}
			log.Debugf("scan failed: %v", err)
			continue
		}
		vec, err := vectorFromScan(scan, s.Calibration(), engine, set.Keypoints)
		if err != nil {
			log.Warnf("skipping scan: %v", err)
			continue
		}
		if err := set.Append(vec, label); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// vectorFromScan runs the same filter and clustering as a room's HIGH
// state and returns the keypoints of the single object found.
func vectorFromScan(scan []geometry.Sample, cal sensor.Calibration, engine *cluster.Engine, k int) ([]float64, error) {
	fg, _ := sensor.Filter(scan, cal)
	res := engine.ClusterWithCenters(fg)
	if len(res.Clusters) != 1 {
		return nil, fmt.Errorf("%w: found %d", errNotOneObject, len(res.Clusters))
	}
	return classify.ClusterKeypoints(res.Clusters[0], k)
}
