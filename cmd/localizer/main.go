// Package main runs the Monte Carlo localization engine against a stored
// occupancy map, logging pose estimates and broadcasting map corrections.
package main

import (
	"context"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/luruiwu/thesis/config"
	"github.com/luruiwu/thesis/lidar"
	"github.com/luruiwu/thesis/localization"
	"github.com/luruiwu/thesis/octomap"
	"github.com/luruiwu/thesis/referenceframe"
)

var logger = golog.NewDevelopmentLogger("localizer")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"0,required,usage=localization config file"`
	Global     bool   `flag:"global,usage=start with global localization instead of the configured pose"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg, err := config.Read(argsParsed.ConfigFile)
	if err != nil {
		return err
	}

	m, err := loadMap(cfg.MapPath)
	if err != nil {
		return err
	}
	logger.Infof("loaded occupancy map with %d cells at %.3fm resolution", m.Size(), m.Resolution())

	buffer := referenceframe.NewBuffer(cfg.Localization.TransformTolerance())
	engine := localization.NewEngine(*cfg, m, buffer, buffer, &logPublisher{logger}, clock.New(), logger)
	engine.Start()
	defer func() {
		err = multierr.Combine(err, engine.Close())
	}()

	if argsParsed.Global {
		err = engine.GlobalLocalization(ctx)
	} else {
		err = engine.InitializeFromConfig(ctx)
	}
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func loadMap(path string) (*octomap.Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening map file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return octomap.ReadFrom(f)
}

// logPublisher writes engine outputs to the process log.
type logPublisher struct {
	logger golog.Logger
}

func (p *logPublisher) PublishPose(ps localization.PoseStamped) {
	pt := ps.Pose.Point()
	ea := ps.Pose.EulerAngles()
	p.logger.Infow("pose estimate",
		"frame", ps.FrameID,
		"x", pt.X, "y", pt.Y, "z", pt.Z,
		"roll", ea.Roll, "pitch", ea.Pitch, "yaw", ea.Yaw)
}

func (p *logPublisher) PublishParticles(pa localization.PoseArray) {
	p.logger.Debugw("particle population", "frame", pa.FrameID, "size", len(pa.Poses))
}

func (p *logPublisher) PublishFilteredCloud(obs *lidar.Observation) {
	p.logger.Debugw("filtered scan", "frame", obs.FrameID, "points", obs.Cloud.Size())
}
