package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/JulianFP/project-W-runner/internal/backend"
	"github.com/JulianFP/project-W-runner/internal/engine"
	"github.com/JulianFP/project-W-runner/internal/model"
	"github.com/JulianFP/project-W-runner/internal/service"
	"github.com/stretchr/testify/require"
)

// httpBackend is a minimal project-W backend speaking the runner API.
type httpBackend struct {
	mx             sync.Mutex
	registerStatus int
	dropSession    bool
	registers      int
	unregisterAuth []string
	assigned       bool
	submitted      []map[string]any
	done           chan struct{}
}

func newHTTPBackend() *httpBackend {
	return &httpBackend{done: make(chan struct{}, 8)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *httpBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mx.Lock()
	defer b.mx.Unlock()
	switch r.URL.Path {
	case "/api/runners/register":
		b.registers++
		if b.registerStatus != 0 {
			writeJSON(w, b.registerStatus, model.ErrorResponse{Detail: "registration closed"})
			return
		}
		writeJSON(w, http.StatusOK, model.RegisterResponse{ID: 3, SessionToken: "session-" + string(rune('0'+b.registers))})
	case "/api/runners/unregister":
		b.unregisterAuth = append(b.unregisterAuth, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, "success")
	case "/api/runners/heartbeat":
		if b.dropSession {
			b.dropSession = false
			writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Detail: "This runner is not currently registered as online!"})
			return
		}
		resp := model.HeartbeatResponse{JobAssigned: !b.assigned}
		b.assigned = true
		writeJSON(w, http.StatusOK, resp)
	case "/api/runners/retrieve_job_info":
		writeJSON(w, http.StatusOK, map[string]any{"id": 5, "settings": map[string]any{"model": "turbo", "language": "en"}})
	case "/api/runners/retrieve_job_audio":
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF0000WAVE"))
	case "/api/runners/submit_job_result":
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, model.ErrorResponse{Detail: err.Error()})
			return
		}
		b.submitted = append(b.submitted, body)
		writeJSON(w, http.StatusOK, "success")
		b.done <- struct{}{}
	default:
		http.NotFound(w, r)
	}
}

func (b *httpBackend) snapshot() (registers int, unregisterAuth []string, submitted []map[string]any) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.registers, append([]string(nil), b.unregisterAuth...), append([]map[string]any(nil), b.submitted...)
}

func newSupervisor(t *testing.T, b service.Backend, bind func(*service.Session), e model.Engine) *service.Supervisor {
	t.Helper()
	logger := discard()
	session := service.NewSession(b, model.RunnerAttributes{Name: "test runner", Priority: 100}, model.ReadBuildInfo(), logger)
	if bind != nil {
		bind(session)
	}
	slot := service.NewJobSlot()
	heartbeat, err := service.NewHeartbeat(b, slot, 10*time.Millisecond, 2*time.Second, logger)
	require.NoError(t, err)
	handler := service.NewJobHandler(b, slot, e, t.TempDir(), logger)
	return service.NewSupervisor(session, slot, heartbeat, handler, logger)
}

func startHTTP(t *testing.T, hb *httpBackend) (*service.Supervisor, context.CancelFunc, <-chan error) {
	t.Helper()
	srv := httptest.NewServer(hb)
	t.Cleanup(srv.Close)
	client, err := backend.New(backend.Config{URL: srv.URL, AuthToken: "runner-token"}, discard())
	require.NoError(t, err)

	supervisor := newSupervisor(t, client, func(s *service.Session) { client.UseSession(s) }, engine.Dummy{StepDelay: time.Millisecond})
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- supervisor.Do(ctx)
	}()
	return supervisor, cancel, done
}

func waitSubmission(t *testing.T, hb *httpBackend) {
	t.Helper()
	select {
	case <-hb.done:
	case <-time.After(10 * time.Second):
		t.Fatal("no job result submitted")
	}
}

func TestSupervisor(t *testing.T) {
	t.Parallel()

	t.Run("job round trip", func(t *testing.T) {
		t.Parallel()
		hb := newHTTPBackend()
		_, cancel, done := startHTTP(t, hb)
		waitSubmission(t, hb)
		cancel()
		require.NoError(t, <-done)

		registers, unregisterAuth, submitted := hb.snapshot()
		require.Equal(t, 1, registers)
		require.Equal(t, []string{"Bearer session-1"}, unregisterAuth)
		require.Len(t, submitted, 1)
		require.NotContains(t, submitted[0], "error_msg")
		transcript, ok := submitted[0]["transcript"].(map[string]any)
		require.True(t, ok)
		require.Contains(t, transcript["as_txt"], "Space, the final frontier.")
	})

	t.Run("session lost", func(t *testing.T) {
		t.Parallel()
		hb := newHTTPBackend()
		hb.dropSession = true
		_, cancel, done := startHTTP(t, hb)
		waitSubmission(t, hb)
		cancel()
		require.NoError(t, <-done)

		registers, unregisterAuth, submitted := hb.snapshot()
		require.Equal(t, 2, registers)
		require.Equal(t, []string{"Bearer session-2"}, unregisterAuth)
		require.Len(t, submitted, 1)
	})

	t.Run("registration fails", func(t *testing.T) {
		t.Parallel()
		hb := newHTTPBackend()
		hb.registerStatus = http.StatusInternalServerError
		_, cancel, done := startHTTP(t, hb)
		defer cancel()

		err := <-done
		var sig *service.ShutdownSignal
		require.ErrorAs(t, err, &sig)
		require.EqualError(t, err, "failed to register runner: BackendError: 'backend responded with 500: registration closed'")

		registers, unregisterAuth, _ := hb.snapshot()
		require.Equal(t, 1, registers)
		require.Equal(t, []string{"Bearer runner-token"}, unregisterAuth, "unregister runs on every exit path")
	})
}

func TestSupervisor_Fatal(t *testing.T) {
	t.Parallel()
	fake := newFakeBackend()
	fake.heartbeatFn = func(int, model.HeartbeatRequest) (model.HeartbeatResponse, error) {
		return model.HeartbeatResponse{JobAssigned: true}, nil
	}
	fake.submitErr = &backend.Error{StatusCode: http.StatusInternalServerError, Message: "database is down"}
	supervisor := newSupervisor(t, fake, nil, engine.Dummy{StepDelay: time.Millisecond})

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	err := supervisor.Do(ctx)
	var sig *service.ShutdownSignal
	require.ErrorAs(t, err, &sig)
	require.Equal(t, "failed to submit job result", sig.Reason)

	registers, unregisters := fake.counts()
	require.Equal(t, 1, registers)
	require.Equal(t, 1, unregisters)
}

func TestSupervisor_ShutdownAbortsJob(t *testing.T) {
	t.Parallel()
	fake := newFakeBackend()
	fake.heartbeatFn = func(int, model.HeartbeatRequest) (model.HeartbeatResponse, error) {
		return model.HeartbeatResponse{JobAssigned: true}, nil
	}
	started := make(chan struct{})
	var once sync.Once
	e := engineFunc(func(_ context.Context, _ string, _ model.JobSettings, progress model.ProgressFunc) (*model.Transcript, error) {
		once.Do(func() { close(started) })
		for {
			if err := progress(10); err != nil {
				return nil, err
			}
			time.Sleep(time.Millisecond)
		}
	})
	supervisor := newSupervisor(t, fake, nil, e)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- supervisor.Do(ctx)
	}()
	<-started
	cancel()

	require.NoError(t, <-done)
	require.Empty(t, fake.results())
	_, unregisters := fake.counts()
	require.Equal(t, 1, unregisters)
}
