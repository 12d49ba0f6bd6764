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

// Package router is the single consumer of broker events and operator intents.
// Every inbound message reaches at most one handler, chosen by exact topic match.
package router

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/carverauto/robopanel/pkg/logger"
	"github.com/carverauto/robopanel/pkg/transport"
)

const defaultIntentBuffer = 32

// MessageHandler receives the raw payload of a message on its topic.
type MessageHandler = func(payload []byte)

// Controller is the session behaviour the router drives.
type Controller interface {
	OnConnected() error
	OnDisconnected(err error)
	OnConnectionError(err error)
	SetCredentials(username, password string)
	Login() error
	Logout() error
	SendControl(robot string, payload []byte) error
	OnLoginTimeout(attempt string)
	Deadlines() <-chan string
}

// Router owns the single event loop. Broker events and operator intents are
// dispatched one at a time from Run.
type Router struct {
	logger logger.Logger

	mu       sync.RWMutex
	handlers map[string]MessageHandler

	intents  chan Intent
	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	screen   atomic.Int32
}

// New returns a router whose intent queue holds buffer entries.
// A non-positive buffer selects the default size.
func New(log logger.Logger, buffer int) *Router {
	if buffer <= 0 {
		buffer = defaultIntentBuffer
	}

	return &Router{
		logger:   log,
		handlers: make(map[string]MessageHandler),
		intents:  make(chan Intent, buffer),
		done:     make(chan struct{}),
	}
}

// Handle routes messages on topic to handler, replacing any previous handler.
func (r *Router) Handle(topic string, handler MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[topic] = handler
}

// Remove stops routing topic. Unknown topics are ignored.
func (r *Router) Remove(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, topic)
}

// Topics returns the number of routed topics.
func (r *Router) Topics() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handlers)
}

// Screen is the screen most recently selected by the operator.
func (r *Router) Screen() ScreenID {
	return ScreenID(r.screen.Load())
}

// Submit enqueues an intent for Run. It blocks only while the queue is full.
func (r *Router) Submit(ctx context.Context, in Intent) error {
	if in == nil {
		return errNilIntent
	}

	select {
	case <-r.done:
		return ErrRouterStopped
	default:
	}

	select {
	case r.intents <- in:
		return nil
	case <-r.done:
		return ErrRouterStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitCode submits the intent for a legacy event code. Unknown codes are logged and dropped.
func (r *Router) SubmitCode(ctx context.Context, code EventCode) error {
	in, ok := IntentForCode(code)
	if !ok {
		r.logger.Warn().Int("code", int(code)).Msg("Ignoring unknown event code")
		return nil
	}

	return r.Submit(ctx, in)
}

// Run consumes events, intents and login deadlines until ctx is cancelled or
// events is closed. It may be called once.
func (r *Router) Run(ctx context.Context, events <-chan transport.Event, ctl Controller) error {
	if ctl == nil {
		return errNilController
	}

	if !r.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}

	defer r.stopOnce.Do(func() { close(r.done) })

	deadlines := ctl.Deadlines()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug().Msg("Router stopping: context done")
			return nil
		case ev, ok := <-events:
			if !ok {
				r.logger.Debug().Msg("Router stopping: event stream closed")
				return nil
			}

			r.dispatchEvent(ev, ctl)
		case in := <-r.intents:
			r.dispatchIntent(in, ctl)
		case attempt := <-deadlines:
			ctl.OnLoginTimeout(attempt)
		}
	}
}

func (r *Router) dispatchEvent(ev transport.Event, ctl Controller) {
	switch ev.Kind {
	case transport.EventConnected:
		if err := ctl.OnConnected(); err != nil {
			r.logger.Error().Err(err).Msg("Session bootstrap after connect failed")
		}
	case transport.EventDisconnected:
		ctl.OnDisconnected(ev.Err)
	case transport.EventError:
		ctl.OnConnectionError(ev.Err)
	case transport.EventMessage:
		r.dispatchMessage(ev.Topic, ev.Payload)
	default:
		r.logger.Warn().Str("kind", ev.Kind.String()).Msg("Ignoring unknown transport event")
	}
}

func (r *Router) dispatchMessage(topic string, payload []byte) {
	r.mu.RLock()
	handler, ok := r.handlers[topic]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug().Str("topic", topic).Msg("No handler for topic")
		return
	}

	handler(payload)
}

func (r *Router) dispatchIntent(in Intent, ctl Controller) {
	r.logger.Debug().Str("intent", intentName(in)).Msg("Dispatching intent")

	var err error

	switch in := in.(type) {
	case CredentialsProvided:
		ctl.SetCredentials(in.Username, in.Password)
	case LoginRequested:
		err = ctl.Login()
	case LogoutRequested:
		err = ctl.Logout()
	case ScreenSelected:
		r.screen.Store(int32(in.ID))
		r.logger.Info().Str("screen", in.ID.String()).Msg("Screen selected")
	case ControlRequested:
		err = ctl.SendControl(in.Robot, in.Payload)
	default:
		r.logger.Warn().Str("intent", intentName(in)).Msg("Ignoring unknown intent")
	}

	if err != nil {
		r.logger.Warn().Err(err).Str("intent", intentName(in)).Msg("Intent failed")
	}
}
