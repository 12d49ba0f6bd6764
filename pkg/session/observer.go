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

// Observer is the presentation side of the panel. Callbacks run on the
// session's event loop and must not block.
type Observer interface {
	// LoginStatusChanged reports a login outcome; err is nil on success and on logout.
	LoginStatusChanged(loggedIn bool, err error)
	// RobotTelemetryChanged forwards a state-topic payload verbatim.
	RobotTelemetryChanged(robot string, payload []byte)
	// FleetStatusChanged forwards a fleet-status payload verbatim.
	FleetStatusChanged(payload []byte)
	// ConnectivityChanged reports the broker link; err carries the cause of a drop.
	ConnectivityChanged(connected bool, err error)
}

// NopObserver ignores every notification. Embed it to implement only some callbacks.
type NopObserver struct{}

func (NopObserver) LoginStatusChanged(bool, error)       {}
func (NopObserver) RobotTelemetryChanged(string, []byte) {}
func (NopObserver) FleetStatusChanged([]byte)            {}
func (NopObserver) ConnectivityChanged(bool, error)      {}
