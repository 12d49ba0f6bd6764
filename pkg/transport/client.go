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

// Package transport owns the broker connection: connect and reconnect, topic
// subscriptions, serialized publishing and ordered delivery of connection and
// message events to a single consumer.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/robopanel/pkg/logger"
	"github.com/carverauto/robopanel/pkg/natsutil"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventConnected fires once per established connection, initial or reconnect.
	EventConnected EventKind = iota + 1
	// EventDisconnected fires when an established connection is lost. All
	// subscriptions are gone by the time it is delivered.
	EventDisconnected
	// EventMessage carries a message received on a subscribed topic.
	EventMessage
	// EventError reports an asynchronous broker error that did not drop the link.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered on Client.Events in arrival order.
type Event struct {
	Kind    EventKind
	Topic   string
	Payload []byte
	Err     error

	// connection generation the message was received under
	gen uint64
}

type connectFunc func(url string, opts ...nats.Option) (*nats.Conn, error)

// Client is a NATS-backed publish/subscribe client for a single broker.
type Client struct {
	cfg       Config
	logger    logger.Logger
	connectFn connectFunc

	// mu guards the fields below and serializes writes to the connection.
	mu        sync.Mutex
	nc        *nats.Conn
	connected bool
	started   bool
	closed    bool
	subs      map[string]*nats.Subscription

	// gen is bumped on every disconnect; messages from an older generation are dropped.
	gen atomic.Uint64

	raw       chan Event
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client for cfg. Nothing is dialled until Connect.
func New(cfg Config, log logger.Logger) *Client {
	cfg.ApplyDefaults()

	c := &Client{
		cfg:       cfg,
		logger:    log,
		connectFn: nats.Connect,
		subs:      make(map[string]*nats.Subscription),
		raw:       make(chan Event, cfg.EventBuffer),
		events:    make(chan Event, cfg.EventBuffer),
		done:      make(chan struct{}),
	}

	go c.pump()

	return c
}

// Events returns the ordered inbound event stream. It is closed by Close.
func (c *Client) Events() <-chan Event {
	return c.events
}

// URL is the broker address the client dials.
func (c *Client) URL() string {
	return natsutil.ServerURL(c.cfg.Host, c.cfg.Port)
}

// Connect starts connecting in the background and returns immediately. An
// unreachable broker is retried per the reconnect policy until ctx is cancelled
// or Close is called.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if c.started {
		return ErrAlreadyStarted
	}

	c.started = true

	go c.dial()

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	return nil
}

func (c *Client) dial() {
	url := c.URL()

	opts, err := natsutil.ConnectOptions(natsutil.ClientOptions{
		Name:          c.cfg.ClientName,
		Username:      c.cfg.Username,
		Password:      c.cfg.Password,
		NKeySeed:      c.cfg.NKeySeed,
		ReconnectWait: time.Duration(c.cfg.ReconnectWait),
		MaxReconnects: c.cfg.MaxReconnects,
		DialTimeout:   time.Duration(c.cfg.DialTimeout),
	}, natsutil.ConnHandlers{
		OnConnect:   c.markConnected,
		OnReconnect: c.markConnected,
		OnDisconnect: func(_ *nats.Conn, err error) {
			c.markDisconnected(err)
		},
		OnClosed: func(_ *nats.Conn) {
			c.markDisconnected(nats.ErrConnectionClosed)
		},
		OnError: func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}

			c.logger.Warn().Err(err).Str("topic", subject).Msg("Broker reported an error")
			c.emit(Event{Kind: EventError, Topic: subject, Err: fmt.Errorf("%w: %w", ErrConnection, err)})
		},
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Invalid broker authentication settings")
		c.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: %w", ErrConnection, err)})

		return
	}

	c.logger.Info().Str("url", url).Str("client", c.cfg.ClientName).Msg("Connecting to broker")

	nc, err := c.connectFn(url, opts...)
	if err != nil {
		c.logger.Error().Err(err).Str("url", url).Msg("Failed to start broker connection")
		c.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: %w", ErrConnection, err)})

		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		nc.Close()

		return
	}

	c.nc = nc
	c.mu.Unlock()

	if nc.IsConnected() {
		c.markConnected(nc)
	}
}

func (c *Client) markConnected(nc *nats.Conn) {
	c.mu.Lock()

	if c.closed || c.connected || !nc.IsConnected() {
		c.mu.Unlock()
		return
	}

	c.nc = nc
	c.connected = true
	c.mu.Unlock()

	c.logger.Info().Str("url", nc.ConnectedUrlRedacted()).Msg("Connected to broker")
	c.emit(Event{Kind: EventConnected})
}

func (c *Client) markDisconnected(cause error) {
	c.mu.Lock()

	if !c.connected {
		c.mu.Unlock()
		return
	}

	c.connected = false
	c.gen.Add(1)

	for topic, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Debug().Err(err).Str("topic", topic).Msg("Dropping subscription after disconnect")
		}
	}

	c.subs = make(map[string]*nats.Subscription)
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}

	if cause == nil {
		cause = errLinkLost
	}

	c.logger.Warn().Err(cause).Msg("Disconnected from broker")
	c.emit(Event{Kind: EventDisconnected, Err: fmt.Errorf("%w: %w", ErrConnection, cause)})
}

// Connected reports whether the broker link is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

// Subscribe registers interest in topic. Subscribing to an already subscribed
// topic is a no-op, so each inbound message is delivered once.
func (c *Client) Subscribe(topic string) error {
	if topic == "" {
		return errEmptyTopic
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.nc == nil {
		return fmt.Errorf("%w: subscribe %s", ErrNotConnected, topic)
	}

	if _, ok := c.subs[topic]; ok {
		return nil
	}

	gen := c.gen.Load()

	sub, err := c.nc.Subscribe(topic, func(msg *nats.Msg) {
		c.emit(Event{Kind: EventMessage, Topic: msg.Subject, Payload: msg.Data, gen: gen})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	c.subs[topic] = sub

	c.logger.Debug().Str("topic", topic).Msg("Subscribed")

	return nil
}

// Unsubscribe removes interest in topic. Unknown topics are ignored.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[topic]
	if !ok {
		return nil
	}

	delete(c.subs, topic)

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", topic, err)
	}

	return nil
}

// Subscriptions returns the currently active topics, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}

	sort.Strings(topics)

	return topics
}

// Publish sends payload to topic. Byte slices, json.RawMessage and strings are
// sent verbatim; anything else is encoded as JSON.
func (c *Client) Publish(topic string, payload any) error {
	if topic == "" {
		return fmt.Errorf("%w: %w", ErrPublish, errEmptyTopic)
	}

	data, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.nc == nil {
		return fmt.Errorf("%w: %w", ErrPublish, ErrNotConnected)
	}

	if err := c.nc.Publish(topic, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	return nil
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	case string:
		return []byte(p), nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errEncodePayload, err)
	}

	return data, nil
}

// Close drops the connection, stops reconnecting and closes the event stream.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		nc := c.nc
		c.closed = true
		c.connected = false
		c.nc = nil
		c.subs = make(map[string]*nats.Subscription)
		c.mu.Unlock()

		close(c.done)

		if nc != nil {
			nc.Close()
		}

		c.logger.Info().Msg("Broker client closed")
	})
}

func (c *Client) emit(ev Event) {
	select {
	case c.raw <- ev:
	case <-c.done:
	}
}

// pump forwards raw events in order, dropping messages that belong to a
// connection generation that has since been lost.
func (c *Client) pump() {
	defer close(c.events)

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.raw:
			if ev.Kind == EventMessage && ev.gen != c.gen.Load() {
				c.logger.Debug().Str("topic", ev.Topic).Msg("Dropping message from a lost connection")
				continue
			}

			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}
