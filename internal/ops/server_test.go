package ops

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/skeldware/dropship/internal/anticheat"
	"github.com/skeldware/dropship/internal/authapi"
	"github.com/skeldware/dropship/internal/config"
	"github.com/skeldware/dropship/internal/events"
	"github.com/skeldware/dropship/internal/protocol"
	"github.com/skeldware/dropship/internal/server"
)

func newOpsServer(t *testing.T, tokenHash string) (*Server, *server.Worker) {
	t.Helper()
	cfg := config.Default()
	cfg.Rooms.FixedCode = "QWXRTY"
	w := server.NewWorker(cfg, events.NewHub(), anticheat.NewGate(), authapi.Anonymous{}, server.NullMetrics{}, nil)

	opsCfg := cfg.Ops
	opsCfg.TokenHash = tokenHash
	return New(opsCfg, w, nil), w
}

func do(s *Server, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newOpsServer(t, "")
	rec := do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRoomsListAndGet(t *testing.T) {
	s, w := newOpsServer(t, "")
	r, err := w.CreateRoom(protocol.DefaultGameSettings())
	require.NoError(t, err)
	defer w.DestroyRoom(r.Code().String())

	rec := do(s, http.MethodGet, "/api/v1/rooms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []RoomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "QWXRTY", list[0].Code)
	assert.Equal(t, "not_started", list[0].State)
	assert.Equal(t, 10, list[0].MaxPlayers)

	rec = do(s, http.MethodGet, "/api/v1/rooms/qwxrty", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var single RoomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &single))
	assert.Equal(t, "QWXRTY", single.Code)

	rec = do(s, http.MethodGet, "/api/v1/rooms/ABCDEF", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDestroyRoomRequiresToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("opstoken"), bcrypt.MinCost)
	require.NoError(t, err)
	s, w := newOpsServer(t, string(hash))
	r, err := w.CreateRoom(protocol.DefaultGameSettings())
	require.NoError(t, err)
	code := r.Code().String()

	rec := do(s, http.MethodDelete, "/api/v1/rooms/"+code, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(s, http.MethodDelete, "/api/v1/rooms/"+code, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(s, http.MethodDelete, "/api/v1/rooms/"+code, "opstoken")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Eventually(t, func() bool { return w.RoomCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	rec = do(s, http.MethodDelete, "/api/v1/rooms/"+code, "opstoken")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDestroyRoomDisabledWithoutHash(t *testing.T) {
	s, w := newOpsServer(t, "")
	r, err := w.CreateRoom(protocol.DefaultGameSettings())
	require.NoError(t, err)
	defer w.DestroyRoom(r.Code().String())

	rec := do(s, http.MethodDelete, "/api/v1/rooms/"+r.Code().String(), "anything")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 1, w.RoomCount())
}
