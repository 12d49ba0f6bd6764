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

//go:generate mockgen -destination=mock_transport.go -package=session github.com/carverauto/robopanel/pkg/session Transport

// Package session drives the operator login handshake with the robot controller
// and, once authenticated, bootstraps the robot registry and its subscriptions.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/robopanel/pkg/logger"
	"github.com/carverauto/robopanel/pkg/models"
	"github.com/carverauto/robopanel/pkg/registry"
)

// Defaults used when Config leaves the robot or timeout unset.
const (
	DefaultRobotID      = "robot1"
	DefaultLoginTimeout = 10 * time.Second

	deadlineBuffer = 16
)

// Transport is the part of the broker client the controller drives.
type Transport interface {
	Publish(topic string, payload any) error
	Subscribe(topic string) error
	Unsubscribe(topic string) error
}

// Mux binds inbound topics to handlers on the event loop.
type Mux interface {
	Handle(topic string, handler func(payload []byte))
	Remove(topic string)
}

// Config selects the robot the operator logs in to.
type Config struct {
	RobotID      string
	RobotAddress string
	// FleetStatusTopic is subscribed alongside the robot state after login. Empty disables it.
	FleetStatusTopic string
	// LoginTimeout bounds the wait for a login response. Zero disables the timeout.
	LoginTimeout time.Duration
}

// Validate checks the robot selection and timeout.
func (c *Config) Validate() error {
	var errs []error

	if c.RobotID == "" {
		errs = append(errs, errRobotIDRequired)
	}

	if c.LoginTimeout < 0 {
		errs = append(errs, errNegativeTimeout)
	}

	return errors.Join(errs...)
}

// Controller owns the session state machine. Every method except Status,
// LastError, Deadlines and Close must be called from the single event-loop goroutine.
type Controller struct {
	cfg       Config
	transport Transport
	registry  *registry.Registry
	mux       Mux
	observer  Observer
	logger    logger.Logger

	mu      sync.RWMutex
	status  Status
	lastErr error

	username  string
	password  string
	connected bool
	attempt   string
	timer     *time.Timer
	deadlines chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewController wires a controller and registers the login-response route on mux.
func NewController(cfg Config, transport Transport, reg *registry.Registry, mux Mux, observer Observer, log logger.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if observer == nil {
		observer = NopObserver{}
	}

	c := &Controller{
		cfg:       cfg,
		transport: transport,
		registry:  reg,
		mux:       mux,
		observer:  observer,
		logger:    log,
		status:    StatusLoggedOut,
		deadlines: make(chan string, deadlineBuffer),
		done:      make(chan struct{}),
	}

	mux.Handle(c.loginResponseTopic(), func(payload []byte) {
		_ = c.HandleLoginResponse(payload)
	})

	return c, nil
}

func (c *Controller) loginRequestTopic() string {
	return registry.LoginRequestTopic(c.cfg.RobotID)
}

func (c *Controller) loginResponseTopic() string {
	return registry.LoginResponseTopic(c.cfg.RobotID)
}

// Status returns the current login status. Safe from any goroutine.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.status
}

// LastError returns why the last login attempt failed, or nil.
func (c *Controller) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lastErr
}

// Deadlines delivers the id of a login attempt whose timeout expired. The event
// loop feeds these back into OnLoginTimeout.
func (c *Controller) Deadlines() <-chan string {
	return c.deadlines
}

func (c *Controller) setStatus(status Status, err error) {
	c.mu.Lock()
	prev := c.status
	c.status = status
	c.lastErr = err
	c.mu.Unlock()

	if prev != status {
		c.logger.Info().
			Str("from", prev.String()).
			Str("to", status.String()).
			Msg("Session status changed")
	}
}

// OnConnected subscribes the login-response topic and, for a live session,
// restores the robot subscriptions lost with the previous connection.
func (c *Controller) OnConnected() error {
	c.connected = true

	if err := c.transport.Subscribe(c.loginResponseTopic()); err != nil {
		c.logger.Error().Err(err).Str("topic", c.loginResponseTopic()).Msg("Failed to subscribe to login responses")
		return err
	}

	c.observer.ConnectivityChanged(true, nil)

	if c.Status() != StatusLoggedIn {
		return nil
	}

	var errs []error

	for _, ep := range c.registry.All() {
		if err := c.transport.Subscribe(ep.StateTopic); err != nil {
			errs = append(errs, err)
		}
	}

	if topic := c.cfg.FleetStatusTopic; topic != "" {
		if err := c.transport.Subscribe(topic); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		c.logger.Error().Err(err).Msg("Failed to restore robot subscriptions")
		return err
	}

	c.logger.Info().Int("robots", c.registry.Len()).Msg("Restored robot subscriptions after reconnect")

	return nil
}

// OnDisconnected records a lost broker link. A pending login is left to its timeout.
func (c *Controller) OnDisconnected(err error) {
	c.connected = false
	c.observer.ConnectivityChanged(false, err)
}

// OnConnectionError surfaces an asynchronous broker error.
func (c *Controller) OnConnectionError(err error) {
	c.logger.Warn().Err(err).Msg("Broker connection error")
	c.observer.ConnectivityChanged(c.connected, err)
}

// SetCredentials stores the operator's credentials for the next login attempt.
func (c *Controller) SetCredentials(username, password string) {
	c.username = username
	c.password = password
}

func (c *Controller) clearCredentials() {
	c.username = ""
	c.password = ""
}

// Login publishes the stored credentials to the robot. Empty credentials fail
// locally without touching the broker.
func (c *Controller) Login() error {
	switch c.Status() {
	case StatusPending:
		c.logger.Debug().Str("attempt", c.attempt).Msg("Ignoring login request while one is pending")
		return ErrLoginInProgress
	case StatusLoggedIn:
		c.logger.Debug().Msg("Ignoring login request for an active session")
		return nil
	case StatusFailed:
		c.setStatus(StatusLoggedOut, nil)
	case StatusLoggedOut:
	}

	if c.username == "" || c.password == "" {
		c.fail(ErrInvalidCredentials)
		return ErrInvalidCredentials
	}

	req := models.LoginRequest{Username: c.username, Password: c.password}
	c.attempt = uuid.NewString()
	c.setStatus(StatusPending, nil)

	if err := c.transport.Publish(c.loginRequestTopic(), req); err != nil {
		c.fail(err)
		return err
	}

	c.logger.Info().
		Str("attempt", c.attempt).
		Str("robot", c.cfg.RobotID).
		Str("username", req.Username).
		Msg("Login request published")

	c.armTimeout(c.attempt)

	return nil
}

func (c *Controller) armTimeout(attempt string) {
	if c.cfg.LoginTimeout <= 0 {
		return
	}

	// A full queue holds the expiry back until the loop drains it or Close is called.
	c.timer = time.AfterFunc(c.cfg.LoginTimeout, func() {
		select {
		case c.deadlines <- attempt:
		case <-c.done:
		}
	})
}

// Close releases timers still waiting to deliver a login deadline. Safe from
// any goroutine and idempotent; the controller must not be used afterwards.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// OnLoginTimeout fails the pending attempt if it is still the one that timed out.
func (c *Controller) OnLoginTimeout(attempt string) {
	if c.Status() != StatusPending || attempt != c.attempt {
		return
	}

	c.fail(fmt.Errorf("%w after %s", ErrLoginTimeout, c.cfg.LoginTimeout))
}

// HandleLoginResponse interprets a message on the login-response topic. Only the
// literal "success" response logs the operator in; anything else fails the attempt.
func (c *Controller) HandleLoginResponse(payload []byte) error {
	if c.Status() != StatusPending {
		c.logger.Debug().Msg("Ignoring login response without a pending attempt")
		return nil
	}

	c.stopTimer()

	resp, err := models.ParseLoginResponse(payload)
	if err != nil {
		err = errors.Join(ErrAuthenticationFailed, fmt.Errorf("%w: %w", ErrMalformedMessage, err))
		c.logger.Warn().Err(err).Msg("Unparseable login response")
		c.fail(err)

		return err
	}

	if !resp.Succeeded() {
		err := fmt.Errorf("%w: controller answered %q", ErrAuthenticationFailed, resp.Response)
		c.fail(err)

		return err
	}

	if err := c.bootstrap(); err != nil {
		c.fail(err)
		return err
	}

	c.clearCredentials()
	c.setStatus(StatusLoggedIn, nil)
	c.observer.LoginStatusChanged(true, nil)

	return nil
}

// bootstrap registers the default robot and subscribes its telemetry. On error
// nothing it added is left behind.
func (c *Controller) bootstrap() error {
	ep := registry.NewRobotEndpoint(c.cfg.RobotID, c.cfg.RobotAddress)

	if err := c.subscribeRobot(ep); err != nil {
		return fmt.Errorf("failed to bootstrap robot %s: %w", ep.Name, err)
	}

	if err := c.subscribeFleet(); err != nil {
		c.unsubscribeRobot(ep)
		return fmt.Errorf("failed to subscribe fleet status: %w", err)
	}

	if _, err := c.registry.Register(ep); err != nil {
		c.unsubscribeRobot(ep)
		c.unsubscribeFleet()

		return err
	}

	c.logger.Info().
		Str("robot", ep.Name).
		Str("state_topic", ep.StateTopic).
		Str("control_topic", ep.ControlTopic).
		Msg("Robot registered")

	return nil
}

func (c *Controller) subscribeRobot(ep registry.RobotEndpoint) error {
	name := ep.Name

	c.mux.Handle(ep.StateTopic, func(payload []byte) {
		c.observer.RobotTelemetryChanged(name, payload)
	})

	if err := c.transport.Subscribe(ep.StateTopic); err != nil {
		c.mux.Remove(ep.StateTopic)
		return err
	}

	return nil
}

func (c *Controller) unsubscribeRobot(ep registry.RobotEndpoint) {
	c.mux.Remove(ep.StateTopic)

	if err := c.transport.Unsubscribe(ep.StateTopic); err != nil {
		c.logger.Warn().Err(err).Str("topic", ep.StateTopic).Msg("Failed to unsubscribe robot state")
	}
}

func (c *Controller) subscribeFleet() error {
	topic := c.cfg.FleetStatusTopic
	if topic == "" {
		return nil
	}

	c.mux.Handle(topic, c.observer.FleetStatusChanged)

	if err := c.transport.Subscribe(topic); err != nil {
		c.mux.Remove(topic)
		return err
	}

	return nil
}

func (c *Controller) unsubscribeFleet() {
	topic := c.cfg.FleetStatusTopic
	if topic == "" {
		return
	}

	c.mux.Remove(topic)

	if err := c.transport.Unsubscribe(topic); err != nil {
		c.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to unsubscribe fleet status")
	}
}

func (c *Controller) fail(err error) {
	c.stopTimer()
	c.clearCredentials()
	c.setStatus(StatusFailed, err)

	c.logger.Warn().Err(err).Str("robot", c.cfg.RobotID).Msg("Login failed")
	c.observer.LoginStatusChanged(false, err)
}

// Logout tears the session down: robot subscriptions are dropped and the
// registry is emptied.
func (c *Controller) Logout() error {
	if c.Status() == StatusLoggedOut {
		return nil
	}

	c.stopTimer()
	c.clearCredentials()

	for _, ep := range c.registry.All() {
		c.unsubscribeRobot(ep)
	}

	c.unsubscribeFleet()
	c.registry.Reset()
	c.setStatus(StatusLoggedOut, nil)
	c.observer.LoginStatusChanged(false, nil)

	return nil
}

// SendControl publishes payload on a registered robot's control topic. An empty
// robot name selects the default robot.
func (c *Controller) SendControl(robot string, payload []byte) error {
	if c.Status() != StatusLoggedIn {
		return ErrNotLoggedIn
	}

	if robot == "" {
		robot = c.cfg.RobotID
	}

	ep, ok := c.registry.Get(robot)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRobot, robot)
	}

	return c.transport.Publish(ep.ControlTopic, payload)
}
