/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package panel

import (
	"errors"
	"time"

	"github.com/carverauto/robopanel/pkg/logger"
	"github.com/carverauto/robopanel/pkg/models"
	"github.com/carverauto/robopanel/pkg/session"
	"github.com/carverauto/robopanel/pkg/transport"
)

// DefaultFleetStatusTopic is subscribed after login when the config leaves it unset.
const (
	DefaultFleetStatusTopic = "fleet/status"

	defaultIntentBuffer = 32
)

var errNegativeIntentBuffer = errors.New("intent_buffer must not be negative")

// Config is the panel configuration file.
type Config struct {
	Broker       transport.Config `json:"broker" yaml:"broker"`
	RobotID      string           `json:"robot_id" yaml:"robot_id"`
	RobotAddress string           `json:"robot_address,omitempty" yaml:"robot_address,omitempty"`
	// FleetStatusTopic defaults to DefaultFleetStatusTopic unless DisableFleetStatus is set.
	FleetStatusTopic   string          `json:"fleet_status_topic,omitempty" yaml:"fleet_status_topic,omitempty"`
	DisableFleetStatus bool            `json:"disable_fleet_status,omitempty" yaml:"disable_fleet_status,omitempty"`
	LoginTimeout       models.Duration `json:"login_timeout,omitempty" yaml:"login_timeout,omitempty"`
	IntentBuffer       int             `json:"intent_buffer,omitempty" yaml:"intent_buffer,omitempty"`
	Logging            *logger.Config  `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// ApplyDefaults fills unset fields, including the broker and session settings.
func (c *Config) ApplyDefaults() {
	c.Broker.ApplyDefaults()

	if c.RobotID == "" {
		c.RobotID = session.DefaultRobotID
	}

	if c.FleetStatusTopic == "" {
		c.FleetStatusTopic = DefaultFleetStatusTopic
	}

	if c.DisableFleetStatus {
		c.FleetStatusTopic = ""
	}

	if c.LoginTimeout == 0 {
		c.LoginTimeout = models.Duration(session.DefaultLoginTimeout)
	}

	if c.IntentBuffer == 0 {
		c.IntentBuffer = defaultIntentBuffer
	}
}

// Validate checks the configuration as it will be used, defaults included.
func (c *Config) Validate() error {
	var errs []error

	resolved := *c
	resolved.ApplyDefaults()

	if err := resolved.Broker.Validate(); err != nil {
		errs = append(errs, err)
	}

	sessionCfg := resolved.sessionConfig()
	if err := sessionCfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.IntentBuffer < 0 {
		errs = append(errs, errNegativeIntentBuffer)
	}

	return errors.Join(errs...)
}

func (c *Config) sessionConfig() session.Config {
	return session.Config{
		RobotID:          c.RobotID,
		RobotAddress:     c.RobotAddress,
		FleetStatusTopic: c.FleetStatusTopic,
		LoginTimeout:     time.Duration(c.LoginTimeout),
	}
}
