// Package config holds the process configuration: frame names, filter
// parameters, and coverage-planning parameters. Configuration is loaded once
// and passed explicitly to each component at construction.
package config

import (
	"encoding/json"
	"time"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
)

// Frames names the coordinate frames of the transform tree.
type Frames struct {
	Map            string `json:"map"`
	World          string `json:"world"`
	BaseFootprint  string `json:"base_footprint"`
	BaseStabilized string `json:"base_stabilized"`
	BaseLink       string `json:"base_link"`
}

// Pose is a 6-DOF pose in configuration form, used to seed initialization.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// StdDevs holds per-axis standard deviations for movement noise.
type StdDevs struct {
	X     float64 `json:"x_std_dev"`
	Y     float64 `json:"y_std_dev"`
	Z     float64 `json:"z_std_dev"`
	Roll  float64 `json:"roll_std_dev"`
	Pitch float64 `json:"pitch_std_dev"`
	Yaw   float64 `json:"yaw_std_dev"`
}

// Localization configures the particle filter and its gating.
type Localization struct {
	NumParticles int `json:"particles"`

	MaxRange             float64 `json:"max_range"`
	MinRange             float64 `json:"min_range"`
	SensorSampleDistance float64 `json:"sensor_sample_distance"`

	ObservationThresholdTranslation float64 `json:"observation_threshold_trans"`
	ObservationThresholdRotation    float64 `json:"observation_threshold_rot"`

	TransformToleranceSec float64 `json:"transform_tolerance_time"`

	// PublishUpdated publishes estimates only on fused updates; otherwise an
	// estimate is published for every processed scan.
	PublishUpdated bool `json:"publish_updated"`

	InitialPose Pose    `json:"initial_pose"`
	Movement    StdDevs `json:"movement"`
}

// TransformTolerance returns the tolerance window as a duration.
func (l *Localization) TransformTolerance() time.Duration {
	return time.Duration(l.TransformToleranceSec * float64(time.Second))
}

// Coverage configures the coverage finder.
type Coverage struct {
	SensorRange       float64 `json:"sensor_range"`
	UAVRadius         float64 `json:"uav_radius"`
	SafetyOffset      float64 `json:"safety_offset"`
	MinObstacleHeight float64 `json:"min_obstacle_height"`
}

// Config is the root process configuration.
type Config struct {
	MapPath      string       `json:"map_path"`
	Frames       Frames       `json:"frames"`
	Localization Localization `json:"localization"`
	Coverage     Coverage     `json:"coverage"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Frames: Frames{
			Map:            "map",
			World:          "world",
			BaseFootprint:  "base_footprint",
			BaseStabilized: "base_stabilized",
			BaseLink:       "base_link",
		},
		Localization: Localization{
			NumParticles:                    500,
			MaxRange:                        14,
			MinRange:                        0.05,
			SensorSampleDistance:            0.2,
			ObservationThresholdTranslation: 0.3,
			ObservationThresholdRotation:    0.4,
			TransformToleranceSec:           1.0,
			Movement: StdDevs{
				X: 0.2, Y: 0.2, Z: 0.2,
				Roll: 0.2, Pitch: 0.2, Yaw: 0.2,
			},
		},
		Coverage: Coverage{
			SensorRange:       1,
			UAVRadius:         0.5,
			SafetyOffset:      0.3,
			MinObstacleHeight: 0.3,
		},
	}
}

// Read loads a configuration file, substituting environment variables, on top
// of the defaults.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}
	cfg := Default()
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Localization.NumParticles < 1 {
		return errors.Errorf("particles must be at least 1, got %d", c.Localization.NumParticles)
	}
	if c.Localization.MinRange < 0 || c.Localization.MaxRange <= c.Localization.MinRange {
		return errors.Errorf("invalid scan range bounds [%.3f, %.3f]",
			c.Localization.MinRange, c.Localization.MaxRange)
	}
	if c.Localization.TransformToleranceSec <= 0 {
		return errors.New("transform_tolerance_time must be positive")
	}
	if c.Coverage.SensorRange <= 0 {
		return errors.New("coverage sensor_range must be positive")
	}
	for _, frame := range []string{
		c.Frames.Map, c.Frames.World, c.Frames.BaseFootprint, c.Frames.BaseLink,
	} {
		if frame == "" {
			return errors.New("frame names must not be empty")
		}
	}
	return nil
}
