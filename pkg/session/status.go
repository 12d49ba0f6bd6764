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

import "fmt"

// Status is the login state of the operator session.
type Status int32

const (
	StatusLoggedOut Status = iota
	// StatusPending holds between publishing a login request and its response or timeout.
	StatusPending
	// StatusLoggedIn implies the default robot is registered and its topics are subscribed.
	StatusLoggedIn
	StatusFailed
)

// String returns the status name used in logs.
func (s Status) String() string {
	switch s {
	case StatusLoggedOut:
		return "logged_out"
	case StatusPending:
		return "pending"
	case StatusLoggedIn:
		return "logged_in"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}
