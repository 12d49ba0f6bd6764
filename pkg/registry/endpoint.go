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

package registry

import (
	"fmt"
	"strings"
)

// Topic suffixes appended to a robot id to form broker topics, e.g. robot1/state.
const (
	SuffixLoginRequest  = "login_request"
	SuffixLoginResponse = "login_userInforesponse"
	SuffixState         = "state"
	SuffixControl       = "control"
)

// Topic builds a topic following the <robotId>/<suffix> convention.
func Topic(robotID, suffix string) string {
	return robotID + "/" + suffix
}

// LoginRequestTopic is where credentials for robotID are published.
func LoginRequestTopic(robotID string) string {
	return Topic(robotID, SuffixLoginRequest)
}

// LoginResponseTopic is where robotID answers login requests.
func LoginResponseTopic(robotID string) string {
	return Topic(robotID, SuffixLoginResponse)
}

// RobotEndpoint is a known robot and the topics it talks on. Values are immutable
// once registered.
type RobotEndpoint struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	StateTopic   string `json:"state_topic"`
	ControlTopic string `json:"control_topic"`
}

// NewRobotEndpoint builds the endpoint for robotID using the conventional topics.
func NewRobotEndpoint(robotID, address string) RobotEndpoint {
	return RobotEndpoint{
		Name:         robotID,
		Address:      address,
		StateTopic:   Topic(robotID, SuffixState),
		ControlTopic: Topic(robotID, SuffixControl),
	}
}

// Validate checks that the endpoint can be registered.
func (e RobotEndpoint) Validate() error {
	var missing []string

	if strings.TrimSpace(e.Name) == "" {
		missing = append(missing, "name")
	}

	if e.StateTopic == "" {
		missing = append(missing, "state_topic")
	}

	if e.ControlTopic == "" {
		missing = append(missing, "control_topic")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEndpoint, strings.Join(missing, ", "))
	}

	return nil
}
