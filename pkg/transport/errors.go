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

import "errors"

var (
	// ErrConnection covers an unreachable or dropped broker. It is recoverable:
	// the client keeps reconnecting in the background.
	ErrConnection = errors.New("broker connection error")
	// ErrPublish is returned when a message could not be handed to the broker.
	ErrPublish = errors.New("publish failed")
	// ErrNotConnected is wrapped by ErrPublish and returned by Subscribe while the link is down.
	ErrNotConnected = errors.New("not connected to broker")
	// ErrClosed is returned once the client has been shut down.
	ErrClosed = errors.New("transport closed")
	// ErrAlreadyStarted is returned by a second call to Connect.
	ErrAlreadyStarted = errors.New("connect already called")

	errEncodePayload = errors.New("failed to encode payload")
	errHostRequired  = errors.New("broker host is required")
	errInvalidPort   = errors.New("broker port must be between 0 and 65535")
	errInvalidBuffer = errors.New("event_buffer must not be negative")
	errEmptyTopic    = errors.New("topic must not be empty")
	errLinkLost      = errors.New("broker link lost")
)
