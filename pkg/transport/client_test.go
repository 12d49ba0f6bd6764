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

package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/robopanel/internal/natstest"
	"github.com/carverauto/robopanel/pkg/logger"
	"github.com/carverauto/robopanel/pkg/models"
	"github.com/carverauto/robopanel/pkg/natsutil"
)

const eventTimeout = 5 * time.Second

func newTestClient(t *testing.T, srv *natstest.Server) *Client {
	t.Helper()

	c := New(Config{
		Host:          srv.Host(),
		Port:          srv.Port(),
		ReconnectWait: models.Duration(50 * time.Millisecond),
	}, logger.NewTestLogger())
	t.Cleanup(c.Close)

	return c
}

func nextEvent(t *testing.T, c *Client) Event {
	t.Helper()

	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for transport event")
	}

	return Event{}
}

func expectKind(t *testing.T, c *Client, kind EventKind) Event {
	t.Helper()

	ev := nextEvent(t, c)
	require.Equal(t, kind, ev.Kind, "unexpected event %s", ev.Kind)

	return ev
}

func expectQuiet(t *testing.T, c *Client, d time.Duration) {
	t.Helper()

	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected %s event on %q", ev.Kind, ev.Topic)
	case <-time.After(d):
	}
}

// flush makes sure the broker has processed our SUB before a peer publishes.
func flush(t *testing.T, c *Client) {
	t.Helper()

	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()

	require.NotNil(t, nc)
	require.NoError(t, nc.Flush())
}

func connect(t *testing.T, c *Client) {
	t.Helper()

	require.NoError(t, c.Connect(context.Background()))
	expectKind(t, c, EventConnected)
}

func TestConnectEmitsConnectedOnce(t *testing.T) {
	t.Parallel()

	srv := natstest.Run(t)
	c := newTestClient(t, srv)

	connect(t, c)
	assert.True(t, c.Connected())
	expectQuiet(t, c, 200*time.Millisecond)
}

func TestConnectTwice(t *testing.T) {
	t.Parallel()

	srv := natstest.Run(t)
	c := newTestClient(t, srv)

	connect(t, c)
	require.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyStarted)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := natstest.Run(t)
	c := newTestClient(t, srv)
	connect(t, c)

	require.NoError(t, c.Subscribe("robot1/state"))
	require.NoError(t, c.Subscribe("robot1/state"))
	assert.Equal(t, []string{"robot1/state"}, c.Subscriptions())

	flush(t, c)
	natstest.Publish(t, srv.Peer(), "robot1/state", []byte(`{"battery":87}`))

	ev := expectKind(t, c, EventMessage)
	assert.Equal(t, "robot1/state", ev.Topic)
	assert.JSONEq(t, `{"battery":87}`, string(ev.Payload))

	expectQuiet(t, c, 200*time.Millisecond)
}

func TestMessagesKeepPerTopicOrder(t *testing.T) {
	t.Parallel()

	srv := natstest.Run(t)
	c := newTestClient(t, srv)
	connect(t, c)

	require.NoError(t, c.Subscribe("robot1/state"))
	flush(t, c)

	peer := srv.Peer()
	for _, body := range []string{"1", "2", "3", "4"} {
		require.NoError(t, peer.Publish("robot1/state", []byte(body)))
	}

	require.NoError(t, peer.Flush())

	for _, want := range []string{"1", "2", "3", "4"} {
		ev := expectKind(t, c, EventMessage)
		assert.Equal(t, want, string(ev.Payload))
	}
}

func TestSubscribeRequiresConnection(t *testing.T) {
	t.Parallel()

	c := New(Config{Host: "127.0.0.1"}, logger.NewTestLogger())
	t.Cleanup(c.Close)

	require.ErrorIs(t, c.Subscribe("robot1/state"), ErrNotConnected)
	require.ErrorIs(t, c.Subscribe(""), errEmptyTopic)
}

func TestPublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	c := New(Config{Host: "127.0.0.1"}, logger.NewTestLogger())
	t.Cleanup(c.Close)

	err := c.Publish("robot1/login_request", models.LoginRequest{Username: "alice", Password: "secret"})
	require.ErrorIs(t, err, ErrPublish)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestPublishEncodesRecords(t *testing.T) {
	t.Parallel()

	srv := natstest.Run(t)
	c := newTestClient(t, srv)
	connect(t, c)

	peer := srv.Peer()
	sub, err := peer.SubscribeSync("robot1/>")
	require.NoError(t, err)
	require.NoError(t, peer.Flush())

	require.NoError(t, c.Publish("robot1/login_request", models.LoginRequest{Username: "alice", Password: "secret"}))
	require.NoError(t, c.Publish("robot1/control", []byte(`{"cmd":"stop"}`)))
	require.NoError(t, c.Publish("robot1/control", json.RawMessage(`{"cmd":"go"}`)))

	msg, err := sub.NextMsg(eventTimeout)
	require.NoError(t, err)
	assert.Equal(t, "robot1/login_request", msg.Subject)
	assert.JSONEq(t, `{"username":"alice","password":"secret"}`, string(msg.Data))

	msg, err = sub.NextMsg(eventTimeout)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cmd":"stop"}`, string(msg.Data))

	msg, err = sub.NextMsg(eventTimeout)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cmd":"go"}`, string(msg.Data))
}

func TestPublishUnencodablePayload(t *testing.T) {
	t.Parallel()

	srv := natstest.Run(t)
	c := newTestClient(t, srv)
	connect(t, c)

	err := c.Publish("robot1/control", map[string]any{"bad": make(chan int)})
	require.ErrorIs(t, err, ErrPublish)
	require.ErrorIs(t, err, errEncodePayload)
}

func TestConcurrentPublishersAreSerialized(t *testing.T) {
	t.Parallel()

	srv := natstest.Run(t)
	c := newTestClient(t, srv)
	connect(t, c)

	peer := srv.Peer()
	sub, err := peer.SubscribeSync("robot1/control")
	require.NoError(t, err)
	require.NoError(t, peer.Flush())

	const publishers = 20

	var wg sync.WaitGroup

	for i := 0; i < publishers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.Publish("robot1/control", map[string]int{"seq": i}))
		}(i)
	}

	wg.Wait()

	for i := 0; i < publishers; i++ {
		msg, err := sub.NextMsg(eventTimeout)
		require.NoError(t, err)

		var body map[string]int
		require.NoError(t, json.Unmarshal(msg.Data, &body))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	srv := natstest.Run(t)
	c := newTestClient(t, srv)
	connect(t, c)

	require.NoError(t, c.Subscribe("robot1/state"))
	require.NoError(t, c.Unsubscribe("robot1/state"))
	require.NoError(t, c.Unsubscribe("robot1/unknown"))
	assert.Empty(t, c.Subscriptions())

	flush(t, c)
	natstest.Publish(t, srv.Peer(), "robot1/state", []byte(`{}`))
	expectQuiet(t, c, 200*time.Millisecond)
}

func TestReconnectRequiresResubscribe(t *testing.T) {
	t.Parallel()

	srv := natstest.Run(t)
	c := newTestClient(t, srv)
	connect(t, c)

	require.NoError(t, c.Subscribe("robot1/state"))
	flush(t, c)

	srv.Shutdown()

	ev := expectKind(t, c, EventDisconnected)
	require.ErrorIs(t, ev.Err, ErrConnection)
	assert.False(t, c.Connected())
	assert.Empty(t, c.Subscriptions())
	require.ErrorIs(t, c.Publish("robot1/control", []byte(`{}`)), ErrPublish)

	srv.Restart()
	expectKind(t, c, EventConnected)

	flush(t, c)
	natstest.Publish(t, srv.Peer(), "robot1/state", []byte(`{"stale":true}`))
	expectQuiet(t, c, 300*time.Millisecond)

	require.NoError(t, c.Subscribe("robot1/state"))
	flush(t, c)

	natstest.Publish(t, srv.Peer(), "robot1/state", []byte(`{"fresh":true}`))

	ev = expectKind(t, c, EventMessage)
	assert.JSONEq(t, `{"fresh":true}`, string(ev.Payload))
}

func TestStaleGenerationMessagesAreDropped(t *testing.T) {
	t.Parallel()

	c := New(Config{Host: "127.0.0.1"}, logger.NewTestLogger())
	t.Cleanup(c.Close)

	c.gen.Store(3)
	c.emit(Event{Kind: EventMessage, Topic: "robot1/state", gen: 2})
	c.emit(Event{Kind: EventMessage, Topic: "robot1/state", Payload: []byte("current"), gen: 3})

	ev := nextEvent(t, c)
	assert.Equal(t, "current", string(ev.Payload))
}

func TestConnectToUnreachableBrokerDoesNotBlock(t *testing.T) {
	t.Parallel()

	srv := natstest.Run(t)
	port := srv.Port()
	srv.Shutdown()

	c := New(Config{Host: "127.0.0.1", Port: port, ReconnectWait: models.Duration(20 * time.Millisecond)}, logger.NewTestLogger())
	t.Cleanup(c.Close)

	start := time.Now()
	require.NoError(t, c.Connect(context.Background()))
	assert.Less(t, time.Since(start), time.Second)

	expectQuiet(t, c, 200*time.Millisecond)
	assert.False(t, c.Connected())
}

func TestConnectFailureIsReported(t *testing.T) {
	t.Parallel()

	c := New(Config{Host: "127.0.0.1"}, logger.NewTestLogger())
	t.Cleanup(c.Close)

	c.connectFn = func(string, ...nats.Option) (*nats.Conn, error) {
		return nil, nats.ErrBadTimeout
	}

	require.NoError(t, c.Connect(context.Background()))

	ev := expectKind(t, c, EventError)
	require.ErrorIs(t, ev.Err, ErrConnection)
	require.ErrorIs(t, ev.Err, nats.ErrBadTimeout)
}

func newUserSeed(t *testing.T) (pub, seed string) {
	t.Helper()

	kp, err := nkeys.CreateUser()
	require.NoError(t, err)

	pub, err = kp.PublicKey()
	require.NoError(t, err)

	raw, err := kp.Seed()
	require.NoError(t, err)

	return pub, string(raw)
}

func TestConnectWithNKey(t *testing.T) {
	t.Parallel()

	pub, seed := newUserSeed(t)
	srv := natstest.Run(t, natstest.WithNKeyUsers(pub))

	c := New(Config{
		Host:          srv.Host(),
		Port:          srv.Port(),
		NKeySeed:      seed,
		ReconnectWait: models.Duration(50 * time.Millisecond),
	}, logger.NewTestLogger())
	t.Cleanup(c.Close)

	connect(t, c)
	require.NoError(t, c.Subscribe("robot1/state"))
	require.NoError(t, c.Publish("robot1/state", []byte("pose")))

	ev := expectKind(t, c, EventMessage)
	assert.Equal(t, []byte("pose"), ev.Payload)
}

func TestInvalidNKeySeedIsReported(t *testing.T) {
	t.Parallel()

	c := New(Config{Host: "127.0.0.1", NKeySeed: "SUgarbage"}, logger.NewTestLogger())
	t.Cleanup(c.Close)

	c.connectFn = func(string, ...nats.Option) (*nats.Conn, error) {
		t.Error("dial attempted with unusable credentials")
		return nil, nats.ErrBadTimeout
	}

	require.NoError(t, c.Connect(context.Background()))

	ev := expectKind(t, c, EventError)
	require.ErrorIs(t, ev.Err, ErrConnection)
	require.ErrorIs(t, ev.Err, natsutil.ErrInvalidNKeySeed)
}

func TestCancelContextClosesClient(t *testing.T) {
	t.Parallel()

	srv := natstest.Run(t)
	c := newTestClient(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Connect(ctx))
	expectKind(t, c, EventConnected)

	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-c.Events():
			return !ok
		default:
			return false
		}
	}, eventTimeout, 10*time.Millisecond)

	assert.False(t, c.Connected())
	require.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
}

func TestEventKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "connected", EventConnected.String())
	assert.Equal(t, "disconnected", EventDisconnected.String())
	assert.Equal(t, "message", EventMessage.String())
	assert.Equal(t, "error", EventError.String())
	assert.Equal(t, "EventKind(42)", EventKind(42).String())
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	t.Parallel()

	cfg := Config{Host: "broker"}
	cfg.ApplyDefaults()

	assert.Equal(t, 4222, cfg.Port)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Equal(t, 256, cfg.EventBuffer)
	assert.Contains(t, cfg.ClientName, "robot-panel-")
	require.NoError(t, cfg.Validate())

	bad := Config{Port: 70000, EventBuffer: -1}
	err := bad.Validate()
	require.ErrorIs(t, err, errHostRequired)
	require.ErrorIs(t, err, errInvalidPort)
	require.ErrorIs(t, err, errInvalidBuffer)

	_, seed := newUserSeed(t)

	withSeed := Config{Host: "broker", NKeySeed: seed}
	require.NoError(t, withSeed.Validate())

	conflicting := Config{Host: "broker", Username: "panel", NKeySeed: seed}
	require.ErrorIs(t, conflicting.Validate(), natsutil.ErrConflictingAuth)

	garbage := Config{Host: "broker", NKeySeed: "not-a-seed"}
	require.ErrorIs(t, garbage.Validate(), natsutil.ErrInvalidNKeySeed)
}
