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
	"sync"

	"github.com/carverauto/robopanel/pkg/logger"
	"github.com/carverauto/robopanel/pkg/session"
)

// panelActions is the part of the panel the CLI drives from callbacks.
type panelActions interface {
	Login(ctx context.Context, username, password string) error
	SendControl(ctx context.Context, robot string, payload []byte) error
}

// cliObserver logs session activity, logs in on the first connection and
// sends the optional control payload once the session is up. Callbacks run on
// the router goroutine, so panel calls are made from separate goroutines.
type cliObserver struct {
	ctx    context.Context
	logger logger.Logger

	username string
	password string
	control  []byte

	actions     panelActions
	loginOnce   sync.Once
	controlOnce sync.Once
	wg          sync.WaitGroup
}

var _ session.Observer = (*cliObserver)(nil)

func newCLIObserver(ctx context.Context, log logger.Logger, username, password string, control []byte) *cliObserver {
	return &cliObserver{
		ctx:      ctx,
		logger:   log,
		username: username,
		password: password,
		control:  control,
	}
}

func (o *cliObserver) bind(actions panelActions) {
	o.actions = actions
}

func (o *cliObserver) ConnectivityChanged(connected bool, err error) {
	if !connected {
		o.logger.Warn().Err(err).Msg("Broker link down")
		return
	}

	if err != nil {
		o.logger.Warn().Err(err).Msg("Broker error")
		return
	}

	o.logger.Info().Msg("Broker link up")

	o.loginOnce.Do(func() {
		o.async(func() error {
			return o.actions.Login(o.ctx, o.username, o.password)
		}, "Failed to submit login")
	})
}

func (o *cliObserver) LoginStatusChanged(loggedIn bool, err error) {
	switch {
	case loggedIn:
		o.logger.Info().Msg("Logged in")
	case err != nil:
		o.logger.Error().Err(err).Msg("Login failed")
		return
	default:
		o.logger.Info().Msg("Logged out")
		return
	}

	if len(o.control) == 0 {
		return
	}

	o.controlOnce.Do(func() {
		o.async(func() error {
			return o.actions.SendControl(o.ctx, "", o.control)
		}, "Failed to submit control payload")
	})
}

func (o *cliObserver) RobotTelemetryChanged(robot string, payload []byte) {
	o.logger.Info().Str("robot", robot).Bytes("payload", payload).Msg("Telemetry")
}

func (o *cliObserver) FleetStatusChanged(payload []byte) {
	o.logger.Info().Bytes("payload", payload).Msg("Fleet status")
}

func (o *cliObserver) async(fn func() error, failure string) {
	o.wg.Add(1)

	go func() {
		defer o.wg.Done()

		if err := fn(); err != nil {
			o.logger.Error().Err(err).Msg(failure)
		}
	}()
}

// wait blocks until every submitted action has returned.
func (o *cliObserver) wait() {
	o.wg.Wait()
}
