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

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/robopanel/pkg/logger"
	"github.com/carverauto/robopanel/pkg/models"
	"github.com/carverauto/robopanel/pkg/registry"
)

const (
	loginRequestTopic  = "robot1/login_request"
	loginResponseTopic = "robot1/login_userInforesponse"
	stateTopic         = "robot1/state"
	controlTopic       = "robot1/control"
	fleetTopic         = "fleet/status"
)

var errBrokerDown = errors.New("broker down")

type fakeMux struct {
	handlers map[string]func([]byte)
}

func newFakeMux() *fakeMux {
	return &fakeMux{handlers: make(map[string]func([]byte))}
}

func (m *fakeMux) Handle(topic string, handler func([]byte)) {
	m.handlers[topic] = handler
}

func (m *fakeMux) Remove(topic string) {
	delete(m.handlers, topic)
}

func (m *fakeMux) deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()

	h, ok := m.handlers[topic]
	require.True(t, ok, "no handler for %s", topic)
	h(payload)
}

type loginNotice struct {
	loggedIn bool
	err      error
}

type recordingObserver struct {
	mu           sync.Mutex
	logins       []loginNotice
	telemetry    map[string][][]byte
	fleet        [][]byte
	connectivity []bool
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{telemetry: make(map[string][][]byte)}
}

func (o *recordingObserver) LoginStatusChanged(loggedIn bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logins = append(o.logins, loginNotice{loggedIn: loggedIn, err: err})
}

func (o *recordingObserver) RobotTelemetryChanged(robot string, payload []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.telemetry[robot] = append(o.telemetry[robot], payload)
}

func (o *recordingObserver) FleetStatusChanged(payload []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fleet = append(o.fleet, payload)
}

func (o *recordingObserver) ConnectivityChanged(connected bool, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connectivity = append(o.connectivity, connected)
}

func (o *recordingObserver) lastLogin(t *testing.T) loginNotice {
	t.Helper()

	o.mu.Lock()
	defer o.mu.Unlock()

	require.NotEmpty(t, o.logins)

	return o.logins[len(o.logins)-1]
}

type fixture struct {
	ctl       *Controller
	transport *MockTransport
	registry  *registry.Registry
	mux       *fakeMux
	observer  *recordingObserver
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)

	f := &fixture{
		transport: NewMockTransport(ctrl),
		registry:  registry.New(),
		mux:       newFakeMux(),
		observer:  newRecordingObserver(),
	}

	ctl, err := NewController(cfg, f.transport, f.registry, f.mux, f.observer, logger.NewTestLogger())
	require.NoError(t, err)

	f.ctl = ctl

	return f
}

func defaultConfig() Config {
	return Config{
		RobotID:          "robot1",
		RobotAddress:     "xx.xx.xx.xx",
		FleetStatusTopic: fleetTopic,
	}
}

// login drives the controller to StatusPending with alice/secret.
func (f *fixture) login(t *testing.T) {
	t.Helper()

	f.transport.EXPECT().
		Publish(loginRequestTopic, models.LoginRequest{Username: "alice", Password: "secret"}).
		Return(nil)

	f.ctl.SetCredentials("alice", "secret")
	require.NoError(t, f.ctl.Login())
	require.Equal(t, StatusPending, f.ctl.Status())
}

// loggedIn drives the controller all the way to StatusLoggedIn.
func (f *fixture) loggedIn(t *testing.T) {
	t.Helper()

	f.login(t)
	f.transport.EXPECT().Subscribe(stateTopic).Return(nil)
	f.transport.EXPECT().Subscribe(fleetTopic).Return(nil)

	f.mux.deliver(t, loginResponseTopic, []byte(`{"response":"success"}`))
	require.Equal(t, StatusLoggedIn, f.ctl.Status())
}

func TestNewControllerRegistersLoginResponseRoute(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())

	assert.Contains(t, f.mux.handlers, loginResponseTopic)
	assert.Equal(t, StatusLoggedOut, f.ctl.Status())
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	_, err := NewController(Config{LoginTimeout: -time.Second}, nil, registry.New(), newFakeMux(), nil, logger.NewTestLogger())
	require.ErrorIs(t, err, errRobotIDRequired)
	require.ErrorIs(t, err, errNegativeTimeout)
}

func TestLoginRejectsEmptyCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"empty username", "", "secret"},
		{"empty password", "alice", ""},
		{"both empty", "", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// no Publish expectation: the mock fails the test if one happens
			f := newFixture(t, defaultConfig())
			f.ctl.SetCredentials(tt.username, tt.password)

			err := f.ctl.Login()
			require.ErrorIs(t, err, ErrInvalidCredentials)
			assert.Equal(t, StatusFailed, f.ctl.Status())
			require.ErrorIs(t, f.ctl.LastError(), ErrInvalidCredentials)

			notice := f.observer.lastLogin(t)
			assert.False(t, notice.loggedIn)
			require.ErrorIs(t, notice.err, ErrInvalidCredentials)
		})
	}
}

func TestLoginPublishesCredentials(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	f.login(t)

	assert.Empty(t, f.observer.logins, "nothing is reported until the robot answers")
}

func TestLoginWhilePendingIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	f.login(t)

	f.ctl.SetCredentials("alice", "secret")
	require.ErrorIs(t, f.ctl.Login(), ErrLoginInProgress)
	assert.Equal(t, StatusPending, f.ctl.Status())
}

func TestLoginPublishFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	f.transport.EXPECT().Publish(loginRequestTopic, gomock.Any()).Return(errBrokerDown)

	f.ctl.SetCredentials("alice", "secret")
	require.ErrorIs(t, f.ctl.Login(), errBrokerDown)

	assert.Equal(t, StatusFailed, f.ctl.Status())
	require.ErrorIs(t, f.observer.lastLogin(t).err, errBrokerDown)
}

func TestLoginResponseOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		payload   string
		success   bool
		malformed bool
	}{
		{name: "success", payload: `{"response":"success"}`, success: true},
		{name: "success with extra fields", payload: `{"response":"success","role":"admin"}`, success: true},
		{name: "fail", payload: `{"response":"fail"}`},
		{name: "wrong case", payload: `{"response":"Success"}`},
		{name: "padded", payload: `{"response":" success"}`},
		{name: "absent field", payload: `{}`},
		{name: "numeric field", payload: `{"response":1}`},
		{name: "not json", payload: `success`, malformed: true},
		{name: "json array", payload: `[]`, malformed: true},
		{name: "empty payload", payload: ``, malformed: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, defaultConfig())
			f.login(t)

			if tt.success {
				f.transport.EXPECT().Subscribe(stateTopic).Return(nil)
				f.transport.EXPECT().Subscribe(fleetTopic).Return(nil)
			}

			f.mux.deliver(t, loginResponseTopic, []byte(tt.payload))
			notice := f.observer.lastLogin(t)

			if tt.success {
				assert.Equal(t, StatusLoggedIn, f.ctl.Status())
				assert.True(t, notice.loggedIn)
				require.NoError(t, notice.err)

				ep, ok := f.registry.Get("robot1")
				require.True(t, ok)
				assert.Equal(t, stateTopic, ep.StateTopic)
				assert.Equal(t, controlTopic, ep.ControlTopic)
				assert.Equal(t, "xx.xx.xx.xx", ep.Address)
				assert.Contains(t, f.mux.handlers, stateTopic)
				assert.Contains(t, f.mux.handlers, fleetTopic)

				return
			}

			assert.Equal(t, StatusFailed, f.ctl.Status())
			assert.False(t, notice.loggedIn)
			require.ErrorIs(t, notice.err, ErrAuthenticationFailed)
			assert.Equal(t, tt.malformed, errors.Is(notice.err, ErrMalformedMessage))
			assert.Zero(t, f.registry.Len())
			assert.NotContains(t, f.mux.handlers, stateTopic)
		})
	}
}

func TestLoginResponseWithoutPendingAttemptIsIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())

	f.mux.deliver(t, loginResponseTopic, []byte(`{"response":"success"}`))

	assert.Equal(t, StatusLoggedOut, f.ctl.Status())
	assert.Zero(t, f.registry.Len())
	assert.Empty(t, f.observer.logins)
}

func TestRetryAfterFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	f.login(t)
	f.mux.deliver(t, loginResponseTopic, []byte(`{"response":"fail"}`))
	require.Equal(t, StatusFailed, f.ctl.Status())

	// credentials do not outlive the attempt
	require.ErrorIs(t, f.ctl.Login(), ErrInvalidCredentials)

	f.loggedIn(t)
	require.NoError(t, f.ctl.LastError())
}

func TestLoginTimeout(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.LoginTimeout = 20 * time.Millisecond

	f := newFixture(t, cfg)
	f.login(t)

	var attempt string
	select {
	case attempt = <-f.ctl.Deadlines():
	case <-time.After(5 * time.Second):
		t.Fatal("login deadline never fired")
	}

	f.ctl.OnLoginTimeout("some-older-attempt")
	require.Equal(t, StatusPending, f.ctl.Status())

	f.ctl.OnLoginTimeout(attempt)
	assert.Equal(t, StatusFailed, f.ctl.Status())
	require.ErrorIs(t, f.observer.lastLogin(t).err, ErrLoginTimeout)

	// a late answer is ignored once the attempt timed out
	f.mux.deliver(t, loginResponseTopic, []byte(`{"response":"success"}`))
	assert.Equal(t, StatusFailed, f.ctl.Status())
}

func TestResponseStopsLoginTimeout(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.LoginTimeout = 30 * time.Millisecond

	f := newFixture(t, cfg)
	f.loggedIn(t)

	select {
	case id := <-f.ctl.Deadlines():
		t.Fatalf("unexpected deadline %s after response", id)
	case <-time.After(100 * time.Millisecond):
	}
}

// fillDeadlines occupies every slot of the deadline queue with a stale id.
func fillDeadlines(t *testing.T, ctl *Controller) {
	t.Helper()

	for i := 0; i < deadlineBuffer; i++ {
		ctl.deadlines <- "stale"
	}

	require.Len(t, ctl.deadlines, deadlineBuffer)
}

func TestLoginTimeoutSurvivesFullDeadlineQueue(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.LoginTimeout = 10 * time.Millisecond

	f := newFixture(t, cfg)
	fillDeadlines(t, f.ctl)
	f.login(t)

	attempt := f.ctl.attempt

	// let the timer fire against the full queue before draining it
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < deadlineBuffer; i++ {
		require.Equal(t, "stale", <-f.ctl.Deadlines())
	}

	select {
	case id := <-f.ctl.Deadlines():
		require.Equal(t, attempt, id)
	case <-time.After(5 * time.Second):
		t.Fatal("login deadline was dropped while the queue was full")
	}

	f.ctl.OnLoginTimeout(attempt)
	assert.Equal(t, StatusFailed, f.ctl.Status())
}

func TestCloseReleasesBlockedDeadline(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.LoginTimeout = 10 * time.Millisecond

	f := newFixture(t, cfg)
	fillDeadlines(t, f.ctl)
	f.login(t)

	time.Sleep(50 * time.Millisecond)

	f.ctl.Close()
	f.ctl.Close()

	// the released timer must not have pushed anything past the stale entries
	time.Sleep(20 * time.Millisecond)
	require.Len(t, f.ctl.deadlines, deadlineBuffer)

	for i := 0; i < deadlineBuffer; i++ {
		assert.Equal(t, "stale", <-f.ctl.Deadlines())
	}
}

func TestBootstrapRollsBackOnSubscribeFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	f.login(t)

	gomock.InOrder(
		f.transport.EXPECT().Subscribe(stateTopic).Return(nil),
		f.transport.EXPECT().Subscribe(fleetTopic).Return(errBrokerDown),
		f.transport.EXPECT().Unsubscribe(stateTopic).Return(nil),
	)

	f.mux.deliver(t, loginResponseTopic, []byte(`{"response":"success"}`))

	assert.Equal(t, StatusFailed, f.ctl.Status())
	require.ErrorIs(t, f.ctl.LastError(), errBrokerDown)
	assert.Zero(t, f.registry.Len())
	assert.NotContains(t, f.mux.handlers, stateTopic)
	assert.NotContains(t, f.mux.handlers, fleetTopic)
}

func TestFleetStatusTopicIsOptional(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.FleetStatusTopic = ""

	f := newFixture(t, cfg)
	f.login(t)
	f.transport.EXPECT().Subscribe(stateTopic).Return(nil)

	f.mux.deliver(t, loginResponseTopic, []byte(`{"response":"success"}`))
	assert.Equal(t, StatusLoggedIn, f.ctl.Status())
}

func TestOnConnectedSubscribesLoginResponses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	f.transport.EXPECT().Subscribe(loginResponseTopic).Return(nil)

	require.NoError(t, f.ctl.OnConnected())
	assert.Equal(t, []bool{true}, f.observer.connectivity)
}

func TestOnConnectedFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	f.transport.EXPECT().Subscribe(loginResponseTopic).Return(errBrokerDown)

	require.ErrorIs(t, f.ctl.OnConnected(), errBrokerDown)
}

func TestReconnectRestoresRobotSubscriptions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	f.loggedIn(t)

	f.ctl.OnDisconnected(errBrokerDown)

	f.transport.EXPECT().Subscribe(loginResponseTopic).Return(nil)
	f.transport.EXPECT().Subscribe(stateTopic).Return(nil)
	f.transport.EXPECT().Subscribe(fleetTopic).Return(nil)

	require.NoError(t, f.ctl.OnConnected())
	assert.Equal(t, StatusLoggedIn, f.ctl.Status())
	assert.Equal(t, []bool{false, true}, f.observer.connectivity)
}

func TestTelemetryIsForwardedVerbatim(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	f.loggedIn(t)

	f.mux.deliver(t, stateTopic, []byte(`{"pose":[1,2,3]}`))
	f.mux.deliver(t, fleetTopic, []byte(`online`))

	assert.Equal(t, [][]byte{[]byte(`{"pose":[1,2,3]}`)}, f.observer.telemetry["robot1"])
	assert.Equal(t, [][]byte{[]byte(`online`)}, f.observer.fleet)
}

func TestSendControl(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	require.ErrorIs(t, f.ctl.SendControl("robot1", []byte(`{}`)), ErrNotLoggedIn)

	f.loggedIn(t)

	f.transport.EXPECT().Publish(controlTopic, []byte(`{"cmd":"dock"}`)).Return(nil).Times(2)

	require.NoError(t, f.ctl.SendControl("robot1", []byte(`{"cmd":"dock"}`)))
	require.NoError(t, f.ctl.SendControl("", []byte(`{"cmd":"dock"}`)))
	require.ErrorIs(t, f.ctl.SendControl("robot9", []byte(`{}`)), ErrUnknownRobot)
}

func TestLogoutTearsDownSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	f.loggedIn(t)

	f.transport.EXPECT().Unsubscribe(stateTopic).Return(nil)
	f.transport.EXPECT().Unsubscribe(fleetTopic).Return(nil)

	require.NoError(t, f.ctl.Logout())

	assert.Equal(t, StatusLoggedOut, f.ctl.Status())
	assert.Zero(t, f.registry.Len())
	assert.NotContains(t, f.mux.handlers, stateTopic)
	assert.Contains(t, f.mux.handlers, loginResponseTopic)

	notice := f.observer.lastLogin(t)
	assert.False(t, notice.loggedIn)
	require.NoError(t, notice.err)

	// logging out twice is harmless
	require.NoError(t, f.ctl.Logout())
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "logged_out", StatusLoggedOut.String())
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "logged_in", StatusLoggedIn.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}
