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

// Package natsutil builds NATS connection options shared by broker clients.
package natsutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
)

const defaultScheme = "nats://"

var (
	// ErrInvalidNKeySeed is returned for a seed that does not decode to a user nkey.
	ErrInvalidNKeySeed = errors.New("invalid nkey user seed")
	// ErrConflictingAuth is returned when both a username and an nkey seed are set.
	ErrConflictingAuth = errors.New("username and nkey seed are mutually exclusive")
)

// ClientOptions describes how a client connects to and recovers from losing the broker.
// NKeySeed selects nkey authentication and excludes Username/Password.
type ClientOptions struct {
	Name          string
	Username      string
	Password      string
	NKeySeed      string
	ReconnectWait time.Duration
	// MaxReconnects < 0 retries forever.
	MaxReconnects int
	DialTimeout   time.Duration
}

// ConnHandlers are the lifecycle callbacks registered on the connection.
// nats.go invokes them from its own callback goroutine.
type ConnHandlers struct {
	OnConnect    func(nc *nats.Conn)
	OnReconnect  func(nc *nats.Conn)
	OnDisconnect func(nc *nats.Conn, err error)
	OnClosed     func(nc *nats.Conn)
	OnError      func(nc *nats.Conn, sub *nats.Subscription, err error)
}

// ServerURL turns a host and port into a NATS URL. A host that already carries a
// scheme is used as is, with the port appended when it has none.
func ServerURL(host string, port int) string {
	if strings.Contains(host, "://") {
		if _, _, err := net.SplitHostPort(strings.SplitN(host, "://", 2)[1]); err == nil || port == 0 {
			return host
		}

		return host + ":" + strconv.Itoa(port)
	}

	if port == 0 {
		port = nats.DefaultPort
	}

	return fmt.Sprintf("%s%s", defaultScheme, net.JoinHostPort(host, strconv.Itoa(port)))
}

// NKeyAuth returns an option that authenticates as the user nkey derived from
// seed. The broker nonce is signed on every connect and reconnect.
func NKeyAuth(seed string) (nats.Option, error) {
	kp, err := nkeys.FromSeed([]byte(seed))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNKeySeed, err)
	}

	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNKeySeed, err)
	}

	if !nkeys.IsValidPublicUserKey(pub) {
		return nil, fmt.Errorf("%w: seed is not for a user key", ErrInvalidNKeySeed)
	}

	return nats.Nkey(pub, kp.Sign), nil
}

// ConnectOptions returns the option set for a client that never fails the initial
// connect: unreachable brokers are retried in the background per opts.
func ConnectOptions(opts ClientOptions, handlers ConnHandlers) ([]nats.Option, error) {
	natsOpts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(opts.MaxReconnects),
	}

	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}

	if opts.ReconnectWait > 0 {
		natsOpts = append(natsOpts, nats.ReconnectWait(opts.ReconnectWait))
	}

	if opts.DialTimeout > 0 {
		natsOpts = append(natsOpts, nats.Timeout(opts.DialTimeout))
	}

	switch {
	case opts.NKeySeed != "" && opts.Username != "":
		return nil, ErrConflictingAuth
	case opts.NKeySeed != "":
		auth, err := NKeyAuth(opts.NKeySeed)
		if err != nil {
			return nil, err
		}

		natsOpts = append(natsOpts, auth)
	case opts.Username != "":
		natsOpts = append(natsOpts, nats.UserInfo(opts.Username, opts.Password))
	}

	if handlers.OnConnect != nil {
		natsOpts = append(natsOpts, nats.ConnectHandler(handlers.OnConnect))
	}

	if handlers.OnReconnect != nil {
		natsOpts = append(natsOpts, nats.ReconnectHandler(handlers.OnReconnect))
	}

	if handlers.OnDisconnect != nil {
		natsOpts = append(natsOpts, nats.DisconnectErrHandler(handlers.OnDisconnect))
	}

	if handlers.OnClosed != nil {
		natsOpts = append(natsOpts, nats.ClosedHandler(handlers.OnClosed))
	}

	if handlers.OnError != nil {
		natsOpts = append(natsOpts, nats.ErrorHandler(handlers.OnError))
	}

	return natsOpts, nil
}
