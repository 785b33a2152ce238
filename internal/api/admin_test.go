package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSweeper struct {
	removed int
	err     error
}

func (f fakeSweeper) Sweep(context.Context) (int, error) {
	return f.removed, f.err
}

type fakeRemover struct {
	deleted []string
	err     error
}

func (f *fakeRemover) DeleteByExternalID(_ context.Context, externalID string) error {
	f.deleted = append(f.deleted, externalID)
	return f.err
}

type fakeDisconnector struct {
	dropped []string
}

func (f *fakeDisconnector) DisconnectUser(externalID string) {
	f.dropped = append(f.dropped, externalID)
}

func decodeAdmin(t *testing.T, rec *httptest.ResponseRecorder) AdminResponse {
	t.Helper()
	var resp AdminResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSweepHandlers(t *testing.T) {
	h := NewAdminHandler(fakeSweeper{removed: 3}, fakeSweeper{err: errors.New("boom")}, &fakeRemover{}, &fakeDisconnector{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.SweepPresenceHandler(rec, httptest.NewRequest(http.MethodPost, "/admin/presence/sweep", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAdmin(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.Removed)

	rec = httptest.NewRecorder()
	h.SweepTypingHandler(rec, httptest.NewRequest(http.MethodPost, "/admin/typing/sweep", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, decodeAdmin(t, rec).Success)

	rec = httptest.NewRecorder()
	h.SweepTypingHandler(rec, httptest.NewRequest(http.MethodGet, "/admin/typing/sweep", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDeleteUserHandler(t *testing.T) {
	remover := &fakeRemover{}
	live := &fakeDisconnector{}
	h := NewAdminHandler(fakeSweeper{}, fakeSweeper{}, remover, live, zap.NewNop())

	rec := httptest.NewRecorder()
	h.DeleteUserHandler(rec, httptest.NewRequest(http.MethodDelete, "/admin/users?externalId=ext_alice", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ext_alice"}, remover.deleted)
	assert.Equal(t, []string{"ext_alice"}, live.dropped)

	rec = httptest.NewRecorder()
	h.DeleteUserHandler(rec, httptest.NewRequest(http.MethodDelete, "/admin/users", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	remover.err = errors.New("boom")
	rec = httptest.NewRecorder()
	h.DeleteUserHandler(rec, httptest.NewRequest(http.MethodDelete, "/admin/users?externalId=ext_bob", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"ext_alice"}, live.dropped)
}

func TestHealthHandler(t *testing.T) {
	h := NewAdminHandler(fakeSweeper{}, fakeSweeper{}, &fakeRemover{}, &fakeDisconnector{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeAdmin(t, rec).Success)
}
