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

// Package panel assembles the broker client, session controller, robot
// registry and event router into one owned instance with a start/stop lifecycle.
package panel

import (
	"context"
	"errors"
	"sync"

	"github.com/carverauto/robopanel/pkg/lifecycle"
	"github.com/carverauto/robopanel/pkg/logger"
	"github.com/carverauto/robopanel/pkg/registry"
	"github.com/carverauto/robopanel/pkg/router"
	"github.com/carverauto/robopanel/pkg/session"
	"github.com/carverauto/robopanel/pkg/transport"
)

var (
	ErrAlreadyStarted = errors.New("panel already started")
	ErrNotStarted     = errors.New("panel not started")
)

// Panel is the operator-panel service: one broker client, one robot session
// and the router loop that serialises everything between them.
type Panel struct {
	cfg    Config
	logger logger.Logger

	transport  *transport.Client
	registry   *registry.Registry
	router     *router.Router
	controller *session.Controller

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	runDone chan error
}

var _ lifecycle.Service = (*Panel)(nil)

// New builds a panel from cfg. The observer receives every session
// notification on the router goroutine; nil discards them.
func New(cfg Config, observer session.Observer, log logger.Logger) (*Panel, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	p := &Panel{
		cfg:      cfg,
		logger:   log,
		registry: registry.New(),
		router:   router.New(lifecycle.ComponentLogger(log, "router"), cfg.IntentBuffer),
	}

	p.transport = transport.New(cfg.Broker, lifecycle.ComponentLogger(log, "transport"))

	ctl, err := session.NewController(
		cfg.sessionConfig(),
		p.transport,
		p.registry,
		p.router,
		observer,
		lifecycle.ComponentLogger(log, "session"),
	)
	if err != nil {
		return nil, err
	}

	p.controller = ctl

	return p, nil
}

// Start runs the router and begins connecting to the broker. It returns
// without waiting for the connection.
func (p *Panel) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	p.runDone = make(chan error, 1)

	go func() {
		p.runDone <- p.router.Run(runCtx, p.transport.Events(), p.controller)
	}()

	if err := p.transport.Connect(runCtx); err != nil {
		cancel()
		<-p.runDone

		return err
	}

	p.started = true
	p.cancel = cancel

	p.logger.Info().
		Str("broker", p.transport.URL()).
		Str("robot", p.cfg.RobotID).
		Msg("Panel started")

	return nil
}

// Stop closes the broker link and waits for the router to drain or ctx to expire.
func (p *Panel) Stop(ctx context.Context) error {
	p.mu.Lock()

	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}

	p.started = false
	cancel, done := p.cancel, p.runDone
	p.mu.Unlock()

	p.transport.Close()
	cancel()
	p.controller.Close()

	select {
	case err := <-done:
		p.logger.Info().Msg("Panel stopped")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProvideCredentials sets the credentials for the next login attempt.
func (p *Panel) ProvideCredentials(ctx context.Context, username, password string) error {
	return p.router.Submit(ctx, router.CredentialsProvided{Username: username, Password: password})
}

// RequestLogin starts a login with the last provided credentials. The outcome
// is reported to the observer.
func (p *Panel) RequestLogin(ctx context.Context) error {
	return p.router.Submit(ctx, router.LoginRequested{})
}

// Login provides credentials and requests a login in one step.
func (p *Panel) Login(ctx context.Context, username, password string) error {
	if err := p.ProvideCredentials(ctx, username, password); err != nil {
		return err
	}

	return p.RequestLogin(ctx)
}

// RequestLogout queues a logout.
func (p *Panel) RequestLogout(ctx context.Context) error {
	return p.router.Submit(ctx, router.LogoutRequested{})
}

// SelectScreen records the screen the operator is on.
func (p *Panel) SelectScreen(ctx context.Context, id router.ScreenID) error {
	return p.router.Submit(ctx, router.ScreenSelected{ID: id})
}

// SubmitEventCode accepts the integer event codes of older front-ends.
func (p *Panel) SubmitEventCode(ctx context.Context, code router.EventCode) error {
	return p.router.SubmitCode(ctx, code)
}

// SendControl publishes payload on the control topic of robot once the
// router gets to it. An empty robot addresses the default robot.
func (p *Panel) SendControl(ctx context.Context, robot string, payload []byte) error {
	return p.router.Submit(ctx, router.ControlRequested{Robot: robot, Payload: payload})
}

// Status is the current login status.
func (p *Panel) Status() session.Status {
	return p.controller.Status()
}

// LastError is the cause of the most recent failed login, if any.
func (p *Panel) LastError() error {
	return p.controller.LastError()
}

// Robots lists the registered robot endpoints in registration order.
func (p *Panel) Robots() []registry.RobotEndpoint {
	return p.registry.All()
}

// Subscriptions lists the topics currently subscribed on the broker.
func (p *Panel) Subscriptions() []string {
	return p.transport.Subscriptions()
}

// Connected reports whether the broker link is up.
func (p *Panel) Connected() bool {
	return p.transport.Connected()
}

// Screen is the screen most recently selected.
func (p *Panel) Screen() router.ScreenID {
	return p.router.Screen()
}
