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

package session

import "errors"

var (
	// ErrInvalidCredentials is a local validation failure; nothing is published.
	ErrInvalidCredentials = errors.New("username and password are required")
	// ErrAuthenticationFailed means the robot controller rejected the login.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrMalformedMessage marks a login response that could not be parsed.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrLoginTimeout means no login response arrived in time.
	ErrLoginTimeout = errors.New("login response timed out")
	// ErrLoginInProgress is returned when a login is requested while one is pending.
	ErrLoginInProgress = errors.New("login already in progress")
	// ErrNotLoggedIn is returned for operations that need an authenticated session.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrUnknownRobot is returned when a robot name is not in the registry.
	ErrUnknownRobot = errors.New("unknown robot")

	errRobotIDRequired = errors.New("robot_id is required")
	errNegativeTimeout = errors.New("login_timeout must not be negative")
)
