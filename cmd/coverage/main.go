// Package main plans sensor coverage over a stored occupancy map, writing the
// covered surface as a new map and logging the visitation waypoints.
package main

import (
	"context"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/luruiwu/thesis/config"
	"github.com/luruiwu/thesis/coverage"
	"github.com/luruiwu/thesis/octomap"
)

var logger = golog.NewDevelopmentLogger("coverage")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"0,required,usage=coverage config file"`
	OutFile    string `flag:"out,default=covered.octm,usage=output file for the covered surface map"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg, err := config.Read(argsParsed.ConfigFile)
	if err != nil {
		return err
	}

	f, err := os.Open(cfg.MapPath)
	if err != nil {
		return errors.Wrap(err, "error opening map file")
	}
	m, err := octomap.ReadFrom(f)
	if err != nil {
		return multierr.Combine(err, f.Close())
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Infof("loaded occupancy map with %d cells at %.3fm resolution", m.Size(), m.Resolution())

	finder, err := coverage.NewFinder(m, cfg.Coverage, logger)
	if err != nil {
		return err
	}
	res, err := finder.Run(ctx)
	if err != nil {
		return err
	}

	for i, wp := range res.Waypoints {
		logger.Debugf("waypoint %d: (%.2f, %.2f, %.2f)", i, wp.X, wp.Y, wp.Z)
	}
	logger.Infof("planned %d waypoints", len(res.Waypoints))

	return writeMap(res.Covered, argsParsed.OutFile)
}

func writeMap(m *octomap.Map, path string) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "error creating output file")
	}
	defer func() {
		err = multierr.Combine(err, out.Close())
	}()
	return m.WriteTo(out)
}
