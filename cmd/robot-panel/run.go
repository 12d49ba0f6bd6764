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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carverauto/robopanel/pkg/config"
	"github.com/carverauto/robopanel/pkg/lifecycle"
	"github.com/carverauto/robopanel/pkg/logger"
	"github.com/carverauto/robopanel/pkg/panel"
)

const (
	defaultConfigPath = "/etc/robot-panel/robot-panel.json"

	envUsername = "ROBOPANEL_USERNAME"
	envPassword = "ROBOPANEL_PASSWORD"
)

var errCredentialsRequired = errors.New("username and password are required (flags or " +
	envUsername + "/" + envPassword + ")")

type runOptions struct {
	configPath string
	username   string
	password   string
	control    string
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the broker, log in and stream robot telemetry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPanel(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to panel config file")
	flags.StringVar(&opts.username, "username", "", "Operator username (default $"+envUsername+")")
	flags.StringVar(&opts.password, "password", "", "Operator password (default $"+envPassword+")")
	flags.StringVar(&opts.control, "control", "", "Control payload sent to the robot once logged in")

	return cmd
}

// resolveCredentials fills missing credentials from the environment.
func (o *runOptions) resolveCredentials(getenv func(string) string) error {
	if o.username == "" {
		o.username = getenv(envUsername)
	}

	if o.password == "" {
		o.password = getenv(envPassword)
	}

	if o.username == "" || o.password == "" {
		return errCredentialsRequired
	}

	return nil
}

func runPanel(ctx context.Context, opts *runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := opts.resolveCredentials(os.Getenv); err != nil {
		return err
	}

	var cfg panel.Config
	if err := config.NewConfig(nil).LoadAndValidate(ctx, opts.configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{
			Level:  "info",
			Output: "stdout",
		}
	}

	panelLogger, err := lifecycle.CreateComponentLogger("robot-panel", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	obs := newCLIObserver(ctx, panelLogger, opts.username, opts.password, []byte(opts.control))

	p, err := panel.New(cfg, obs, panelLogger)
	if err != nil {
		return fmt.Errorf("failed to create panel: %w", err)
	}

	obs.bind(p)

	return lifecycle.RunService(ctx, &lifecycle.ServiceOptions{
		ServiceName: "robot-panel",
		Service:     p,
		Logger:      panelLogger,
	})
}
