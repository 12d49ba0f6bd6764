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

// Package natstest runs an embedded NATS server for tests.
package natstest

import (
	"net"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// Server wraps an embedded broker that can be stopped and restarted on the same port.
type Server struct {
	t    *testing.T
	srv  *server.Server
	host string
	port int
	opts []Option
}

// Option adjusts the broker options before each start.
type Option func(*server.Options)

// WithNKeyUsers restricts the broker to clients proving one of the given user nkeys.
func WithNKeyUsers(publicKeys ...string) Option {
	return func(o *server.Options) {
		for _, pub := range publicKeys {
			o.Nkeys = append(o.Nkeys, &server.NkeyUser{Nkey: pub})
		}
	}
}

// Run starts a broker on a random local port and shuts it down with the test.
func Run(t *testing.T, opts ...Option) *Server {
	t.Helper()

	s := &Server{t: t, host: "127.0.0.1", port: -1, opts: opts}
	s.start()

	addr, ok := s.srv.Addr().(*net.TCPAddr)
	require.True(t, ok, "expected TCP address from embedded NATS server")

	s.port = addr.Port

	t.Cleanup(s.Shutdown)

	return s
}

func (s *Server) start() {
	s.t.Helper()

	opts := &server.Options{
		Host:   s.host,
		Port:   s.port,
		NoLog:  true,
		NoSigs: true,
	}

	for _, opt := range s.opts {
		opt(opts)
	}

	srv, err := server.NewServer(opts)
	require.NoError(s.t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		s.t.Fatalf("embedded NATS server not ready for connections")
	}

	s.srv = srv
}

// Host returns the listen host.
func (s *Server) Host() string { return s.host }

// Port returns the listen port, stable across restarts.
func (s *Server) Port() int { return s.port }

// URL returns the client URL.
func (s *Server) URL() string { return s.srv.ClientURL() }

// Shutdown stops the broker. It is safe to call more than once.
func (s *Server) Shutdown() {
	if s.srv != nil {
		s.srv.Shutdown()
		s.srv.WaitForShutdown()
	}
}

// Restart brings the broker back on the same port.
func (s *Server) Restart() {
	s.t.Helper()
	s.Shutdown()
	s.start()
}

// Peer connects a plain client, used to play the robot side of a conversation.
func (s *Server) Peer() *nats.Conn {
	s.t.Helper()

	nc, err := nats.Connect(s.URL())
	require.NoError(s.t, err)

	s.t.Cleanup(nc.Close)

	return nc
}

// Publish sends payload from a peer connection and flushes it to the broker.
func Publish(t *testing.T, nc *nats.Conn, topic string, payload []byte) {
	t.Helper()

	require.NoError(t, nc.Publish(topic, payload))
	require.NoError(t, nc.Flush())
}
