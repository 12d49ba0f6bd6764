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
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/robopanel/pkg/models"
	"github.com/carverauto/robopanel/pkg/natsutil"
)

const (
	defaultPort          = 4222
	defaultReconnectWait = 2 * time.Second
	defaultDialTimeout   = 2 * time.Second
	defaultEventBuffer   = 256
	defaultClientPrefix  = "robot-panel"
)

// Config describes the single broker the panel talks to.
type Config struct {
	Host          string          `json:"host" yaml:"host"`
	Port          int             `json:"port" yaml:"port"`
	ClientName    string          `json:"client_name,omitempty" yaml:"client_name,omitempty"`
	Username      string          `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string          `json:"password,omitempty" yaml:"password,omitempty"`
	NKeySeed      string          `json:"nkey_seed,omitempty" yaml:"nkey_seed,omitempty"`
	ReconnectWait models.Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	DialTimeout   models.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty"`
	// MaxReconnects < 0 keeps retrying until shutdown; 0 selects that default.
	MaxReconnects int `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	EventBuffer   int `json:"event_buffer,omitempty" yaml:"event_buffer,omitempty"`
}

// ApplyDefaults fills unset fields. The client name gets a random suffix so
// several panels are distinguishable on the broker.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}

	if c.ClientName == "" {
		c.ClientName = defaultClientPrefix + "-" + uuid.NewString()[:8]
	}

	if c.ReconnectWait <= 0 {
		c.ReconnectWait = models.Duration(defaultReconnectWait)
	}

	if c.DialTimeout <= 0 {
		c.DialTimeout = models.Duration(defaultDialTimeout)
	}

	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}

	if c.EventBuffer == 0 {
		c.EventBuffer = defaultEventBuffer
	}
}

// Validate reports every invalid field at once, joined with errors.Join.
func (c *Config) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, errHostRequired)
	}

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, errInvalidPort)
	}

	if c.EventBuffer < 0 {
		errs = append(errs, errInvalidBuffer)
	}

	if c.NKeySeed != "" {
		if c.Username != "" {
			errs = append(errs, natsutil.ErrConflictingAuth)
		}

		if _, err := natsutil.NKeyAuth(c.NKeySeed); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
