package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomwatch-backend/config"
)

func TestManual(t *testing.T) {
	m := NewManual()
	ctx := context.Background()

	n, err := m.PeopleCount(ctx, "R-0001")
	require.NoError(t, err)
	assert.Zero(t, n)

	m.Set("R-0001", 3)
	m.SetOccupied("R-0002", true)
	m.Set("R-0003", -2)

	n, _ = m.PeopleCount(ctx, "R-0001")
	assert.Equal(t, 3, n)
	n, _ = m.PeopleCount(ctx, "R-0002")
	assert.Equal(t, 1, n)
	n, _ = m.PeopleCount(ctx, "R-0003")
	assert.Zero(t, n)

	m.SetOccupied("R-0001", false)
	n, _ = m.PeopleCount(ctx, "R-0001")
	assert.Zero(t, n)
}

// fakeConsole serves the token and inference endpoints of the camera console.
type fakeConsole struct {
	tokenCalls     atomic.Int32
	inferenceCalls atomic.Int32
	inference      string
	rejectToken    atomic.Bool
}

func (f *fakeConsole) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		json.NewEncoder(w).Encode(map[string]any{"access_token": fmt.Sprintf("tok-%d", f.tokenCalls.Load()), "expires_in": 3600})
	})
	mux.HandleFunc("/inferenceresults/devices/cam-1", func(w http.ResponseWriter, r *http.Request) {
		f.inferenceCalls.Add(1)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		if f.rejectToken.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer tok-")
		w.Write([]byte(f.inference))
	})
	return mux
}

func newTestCamera(t *testing.T, console *fakeConsole) *Camera {
	t.Helper()
	server := httptest.NewServer(console.handler(t))
	t.Cleanup(server.Close)

	cam, err := NewCamera(config.CameraConfig{
		URL:          server.URL,
		TokenURL:     server.URL + "/oauth/token",
		ClientID:     "client",
		ClientSecret: "secret",
		DeviceID:     "cam-1",
		Headers:      map[string]string{"X-Test": "yes"},
	})
	require.NoError(t, err)
	return cam
}

func TestCamera_CountsPersonDetections(t *testing.T) {
	console := &fakeConsole{inference: `{"data":[{"inference_result":{"Inferences":[{
		"T":"20251129090000000",
		"1":{"C":0,"P":0.93,"X":1,"Y":2,"x":3,"y":4},
		"2":{"C":0,"P":0.81,"X":1,"Y":2,"x":3,"y":4},
		"3":{"C":2,"P":0.99,"X":1,"Y":2,"x":3,"y":4},
		"4":{"C":0,"P":0.4,"X":1,"Y":2,"x":3,"y":4}
	}]}}]}`}
	cam := newTestCamera(t, console)

	n, err := cam.PeopleCount(context.Background(), "R-0001")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = cam.PeopleCount(context.Background(), "R-0001")
	require.NoError(t, err)
	assert.Equal(t, int32(1), console.tokenCalls.Load(), "token is cached between reads")
	assert.Equal(t, int32(2), console.inferenceCalls.Load())
}

func TestCamera_EmptyData(t *testing.T) {
	cam := newTestCamera(t, &fakeConsole{inference: `{"data":[]}`})

	n, err := cam.PeopleCount(context.Background(), "R-0001")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCamera_UndecodedPayload(t *testing.T) {
	cam := newTestCamera(t, &fakeConsole{inference: `{"data":[{"inference_result":{"Inferences":[{"T":"x","O":"AAAA"}]}}]}`})

	_, err := cam.PeopleCount(context.Background(), "R-0001")
	assert.ErrorIs(t, err, ErrUndecodedInference)
}

func TestCamera_UnauthorizedDropsToken(t *testing.T) {
	console := &fakeConsole{inference: `{"data":[]}`}
	cam := newTestCamera(t, console)

	console.rejectToken.Store(true)
	_, err := cam.PeopleCount(context.Background(), "R-0001")
	assert.Error(t, err)

	console.rejectToken.Store(false)
	_, err = cam.PeopleCount(context.Background(), "R-0001")
	require.NoError(t, err)
	assert.Equal(t, int32(2), console.tokenCalls.Load())
}

func TestNewCamera_RequiresEndpoint(t *testing.T) {
	_, err := NewCamera(config.CameraConfig{DeviceID: "cam-1"})
	assert.Error(t, err)
}

func TestSmoother(t *testing.T) {
	m := NewManual()
	s := NewSmoother(m, 3, 2)
	ctx := context.Background()

	steps := []struct {
		raw  int
		want int
	}{
		{2, 0}, // history not full yet
		{2, 0},
		{2, 0}, // first agreeing vote
		{2, 2}, // second agreeing vote flips to occupied
		{0, 2}, // majority still occupied
		{0, 2}, // first empty vote
		{0, 0}, // second empty vote flips back
		{1, 0},
	}
	for i, step := range steps {
		m.Set("R-0001", step.raw)
		got, err := s.PeopleCount(ctx, "R-0001")
		require.NoError(t, err)
		assert.Equal(t, step.want, got, "step %d", i)
	}
}

func TestNewSmoother_DisabledReturnsInner(t *testing.T) {
	m := NewManual()
	assert.Same(t, m, NewSmoother(m, 0, 0))
}
