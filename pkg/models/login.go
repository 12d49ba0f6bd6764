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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// LoginSuccess is the only response value the controller uses to accept a login.
const LoginSuccess = "success"

// ErrMalformedLoginResponse is returned when a login response is not a JSON object.
var ErrMalformedLoginResponse = errors.New("malformed login response")

// LoginRequest is published on <robot>/login_request.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse arrives on <robot>/login_userInforesponse. Extra fields are ignored.
type LoginResponse struct {
	Response string `json:"response"`
}

// Succeeded reports whether the controller accepted the credentials.
func (r LoginResponse) Succeeded() bool {
	return r.Response == LoginSuccess
}

// ParseLoginResponse decodes a login response payload. A missing or non-string
// "response" field decodes as an unsuccessful response; anything that is not a
// JSON object is ErrMalformedLoginResponse.
func ParseLoginResponse(payload []byte) (LoginResponse, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return LoginResponse{}, fmt.Errorf("%w: %w", ErrMalformedLoginResponse, err)
	}

	if fields == nil {
		return LoginResponse{}, ErrMalformedLoginResponse
	}

	var resp LoginResponse

	if raw, ok := fields["response"]; ok {
		// a non-string value is not a success sentinel
		_ = json.Unmarshal(raw, &resp.Response)
	}

	return resp, nil
}
