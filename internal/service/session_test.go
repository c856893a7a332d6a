package service_test

import (
	"net/http"
	"testing"

	"github.com/JulianFP/project-W-runner/internal/backend"
	"github.com/JulianFP/project-W-runner/internal/model"
	"github.com/JulianFP/project-W-runner/internal/service"
	"github.com/stretchr/testify/require"
)

func TestSession_Register(t *testing.T) {
	t.Parallel()
	conflict := &backend.Error{StatusCode: http.StatusForbidden, Message: "This runner is already online!"}
	unavailable := &backend.Error{StatusCode: http.StatusServiceUnavailable, Message: "maintenance"}

	type then struct {
		fatal       bool
		registers   int
		unregisters int
	}
	cases := []struct {
		scenario string
		given    []error
		then     then
	}{
		{"success", nil, then{false, 1, 0}},
		{"conflict recovered", []error{conflict, nil}, then{false, 2, 1}},
		{"second conflict", []error{conflict, conflict}, then{true, 2, 1}},
		{"conflict then other error", []error{conflict, unavailable}, then{true, 2, 1}},
		{"other error", []error{unavailable}, then{true, 1, 0}},
		{"protocol error", []error{backend.ErrNotJSON}, then{true, 1, 0}},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			fake := newFakeBackend()
			fake.registerErrs = tc.given
			session := service.NewSession(fake, model.RunnerAttributes{Name: "gpu-1", Priority: 100}, model.BuildInfo{Version: "v1.0.0"}, discard())

			id, err := session.Register(t.Context())
			registers, unregisters := fake.counts()
			require.Equal(t, tc.then.registers, registers)
			require.Equal(t, tc.then.unregisters, unregisters)

			if tc.then.fatal {
				var sig *service.ShutdownSignal
				require.ErrorAs(t, err, &sig)
				require.Equal(t, "failed to register runner", sig.Reason)
				require.Equal(t, service.KindFatal, service.KindOf(err))
				require.Equal(t, service.Unregistered, session.State())
				_, ok := session.Identity()
				require.False(t, ok)
				require.Empty(t, session.Token())
				return
			}
			require.NoError(t, err)
			require.Equal(t, "session", id.SessionToken)
			require.Equal(t, service.Registered, session.State())
			require.Equal(t, "session", session.Token())
		})
	}
}

func TestSession_Unregister(t *testing.T) {
	t.Parallel()
	fake := newFakeBackend()
	session := service.NewSession(fake, model.RunnerAttributes{Name: "gpu-1", Priority: 1}, model.BuildInfo{}, discard())
	_, err := session.Register(t.Context())
	require.NoError(t, err)

	session.Unregister(t.Context())
	_, unregisters := fake.counts()
	require.Equal(t, 1, unregisters)
	require.Equal(t, service.Unregistered, session.State())
	require.Empty(t, session.Token())
	require.Equal(t, "unregistered", session.State().String())
}
