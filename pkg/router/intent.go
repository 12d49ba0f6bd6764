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

package router

import "fmt"

// Intent is an operator action arriving from the presentation layer.
// The set of intents is closed; only types in this package implement it.
type Intent interface {
	isIntent()
}

// CredentialsProvided replaces the credentials used by the next login attempt.
type CredentialsProvided struct {
	Username string
	Password string
}

// LoginRequested starts a login attempt with the last provided credentials.
type LoginRequested struct{}

// LogoutRequested tears the session down.
type LogoutRequested struct{}

// ScreenSelected records the screen the operator navigated to.
type ScreenSelected struct {
	ID ScreenID
}

// ControlRequested publishes Payload on the control topic of Robot.
// An empty Robot addresses the default robot.
type ControlRequested struct {
	Robot   string
	Payload []byte
}

func (CredentialsProvided) isIntent() {}
func (LoginRequested) isIntent()      {}
func (LogoutRequested) isIntent()     {}
func (ScreenSelected) isIntent()      {}
func (ControlRequested) isIntent()    {}

// ScreenID identifies a panel screen.
type ScreenID int32

const (
	ScreenHome ScreenID = iota
	ScreenControl
	ScreenUser
)

func (s ScreenID) String() string {
	switch s {
	case ScreenHome:
		return "home"
	case ScreenControl:
		return "control"
	case ScreenUser:
		return "user"
	default:
		return fmt.Sprintf("ScreenID(%d)", int32(s))
	}
}

// EventCode is the integer event identifier emitted by panel front-ends that
// predate Intent.
type EventCode int

const (
	UserClickHome EventCode = iota
	UserClickControl
	UserClickInfo
	LoginRequest
)

// IntentForCode maps a legacy event code onto its intent.
func IntentForCode(code EventCode) (Intent, bool) {
	switch code {
	case UserClickHome:
		return ScreenSelected{ID: ScreenHome}, true
	case UserClickControl:
		return ScreenSelected{ID: ScreenControl}, true
	case UserClickInfo:
		return ScreenSelected{ID: ScreenUser}, true
	case LoginRequest:
		return LoginRequested{}, true
	default:
		return nil, false
	}
}

func intentName(in Intent) string {
	switch in.(type) {
	case CredentialsProvided:
		return "credentials_provided"
	case LoginRequested:
		return "login_requested"
	case LogoutRequested:
		return "logout_requested"
	case ScreenSelected:
		return "screen_selected"
	case ControlRequested:
		return "control_requested"
	default:
		return fmt.Sprintf("%T", in)
	}
}
