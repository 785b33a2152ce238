package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"parley/internal/models"
	"parley/internal/users"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("webhook-test-key"))

type mockSyncer struct {
	mock.Mock
}

func (m *mockSyncer) Upsert(ctx context.Context, profile users.Profile) (models.User, error) {
	args := m.Called(ctx, profile)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *mockSyncer) DeleteByExternalID(ctx context.Context, externalID string) error {
	return m.Called(ctx, externalID).Error(0)
}

func newTestHandler(syncer UserSyncer) *Handler {
	return NewHandler(testSecret, syncer, zap.NewNop())
}

func signedRequest(t *testing.T, prefix, body string, sentAt time.Time) *http.Request {
	t.Helper()
	sig, err := Sign(testSecret, "msg_1", sentAt, []byte(body))
	require.NoError(t, err)
	return deliveryRequest(prefix, body, sentAt, sig)
}

func deliveryRequest(prefix, body string, sentAt time.Time, sig string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/identity", bytes.NewBufferString(body))
	r.Header.Set(prefix+"-id", "msg_1")
	r.Header.Set(prefix+"-timestamp", strconv.FormatInt(sentAt.Unix(), 10))
	r.Header.Set(prefix+"-signature", sig)
	return r
}

const createdEvent = `{
	"type": "user.created",
	"data": {
		"id": "ext_alice",
		"email_addresses": [{"email_address": "alice@example.com"}, {"email_address": "a@example.org"}],
		"first_name": "Alice",
		"last_name": null,
		"image_url": "https://img.example.com/a.png"
	}
}`

func TestUserCreated(t *testing.T) {
	now := time.Now()
	syncer := new(mockSyncer)
	syncer.On("Upsert", mock.Anything, users.Profile{
		ExternalID:  "ext_alice",
		Email:       "alice@example.com",
		DisplayName: "Alice",
		AvatarURL:   "https://img.example.com/a.png",
	}).Return(models.User{ID: "u1"}, nil).Twice()

	for _, prefix := range []string{"svix", "webhook"} {
		t.Run(prefix, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestHandler(syncer).ServeHTTP(rec, signedRequest(t, prefix, createdEvent, now))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}

	syncer.AssertExpectations(t)
}

func TestUserDeleted(t *testing.T) {
	now := time.Now()
	body := `{"type": "user.deleted", "data": {"id": "ext_alice"}}`

	t.Run("applied", func(t *testing.T) {
		syncer := new(mockSyncer)
		syncer.On("DeleteByExternalID", mock.Anything, "ext_alice").Return(nil).Once()

		rec := httptest.NewRecorder()
		newTestHandler(syncer).ServeHTTP(rec, signedRequest(t, "svix", body, now))
		assert.Equal(t, http.StatusOK, rec.Code)
		syncer.AssertExpectations(t)
	})

	t.Run("failure is acknowledged", func(t *testing.T) {
		syncer := new(mockSyncer)
		syncer.On("DeleteByExternalID", mock.Anything, "ext_alice").Return(errors.New("boom")).Once()

		rec := httptest.NewRecorder()
		newTestHandler(syncer).ServeHTTP(rec, signedRequest(t, "svix", body, now))
		assert.Equal(t, http.StatusOK, rec.Code)
		syncer.AssertExpectations(t)
	})
}

func TestUpsertFailure(t *testing.T) {
	now := time.Now()
	syncer := new(mockSyncer)
	syncer.On("Upsert", mock.Anything, mock.Anything).Return(models.User{}, errors.New("disk full"))

	rec := httptest.NewRecorder()
	newTestHandler(syncer).ServeHTTP(rec, signedRequest(t, "svix", createdEvent, now))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUnknownEventIgnored(t *testing.T) {
	now := time.Now()
	syncer := new(mockSyncer)

	rec := httptest.NewRecorder()
	newTestHandler(syncer).ServeHTTP(rec, signedRequest(t, "svix", `{"type": "session.created", "data": {}}`, now))
	assert.Equal(t, http.StatusOK, rec.Code)
	syncer.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestRejectedDeliveries(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		secret string
		req    func(t *testing.T) *http.Request
		status int
	}{
		{
			name:   "missing secret",
			secret: "",
			req: func(t *testing.T) *http.Request {
				return signedRequest(t, "svix", createdEvent, now)
			},
			status: http.StatusInternalServerError,
		},
		{
			name:   "missing headers",
			secret: testSecret,
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/webhooks/identity", bytes.NewBufferString(createdEvent))
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "tampered body",
			secret: testSecret,
			req: func(t *testing.T) *http.Request {
				r := signedRequest(t, "svix", createdEvent, now)
				r.Body = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"type":"user.deleted","data":{"id":"ext_bob"}}`)).Body
				return r
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "stale timestamp",
			secret: testSecret,
			req: func(t *testing.T) *http.Request {
				return signedRequest(t, "svix", createdEvent, now.Add(-10*time.Minute))
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "future timestamp",
			secret: testSecret,
			req: func(t *testing.T) *http.Request {
				return signedRequest(t, "svix", createdEvent, now.Add(10*time.Minute))
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "malformed secret",
			secret: "whsec_!!!",
			req: func(t *testing.T) *http.Request {
				return signedRequest(t, "svix", createdEvent, now)
			},
			status: http.StatusInternalServerError,
		},
		{
			name:   "created without id",
			secret: testSecret,
			req: func(t *testing.T) *http.Request {
				return signedRequest(t, "webhook", `{"type": "user.created", "data": {"first_name": "Ghost"}}`, now)
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "updated without id",
			secret: testSecret,
			req: func(t *testing.T) *http.Request {
				return signedRequest(t, "svix", `{"type": "user.updated", "data": {"id": ""}}`, now)
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "invalid json",
			secret: testSecret,
			req: func(t *testing.T) *http.Request {
				return signedRequest(t, "svix", `{"type":`, now)
			},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := new(mockSyncer)
			h := NewHandler(tt.secret, syncer, zap.NewNop())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req(t))
			assert.Equal(t, tt.status, rec.Code)
			syncer.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
			syncer.AssertNotCalled(t, "DeleteByExternalID", mock.Anything, mock.Anything)
		})
	}
}

func TestSignatureList(t *testing.T) {
	now := time.Now()
	body := `{"type": "user.deleted", "data": {"id": "ext_alice"}}`
	good, err := Sign(testSecret, "msg_1", now, []byte(body))
	require.NoError(t, err)
	other, err := Sign(testSecret, "msg_2", now, []byte(body))
	require.NoError(t, err)

	tests := []struct {
		name   string
		sig    string
		status int
	}{
		{name: "rotated key first", sig: "v1,bm9wZQ== " + good, status: http.StatusOK},
		{name: "signed for another delivery", sig: other, status: http.StatusBadRequest},
		{name: "unknown version", sig: "v2," + good[len("v1,"):], status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := new(mockSyncer)
			syncer.On("DeleteByExternalID", mock.Anything, "ext_alice").Return(nil).Maybe()

			rec := httptest.NewRecorder()
			newTestHandler(syncer).ServeHTTP(rec, deliveryRequest("webhook", body, now, tt.sig))
			assert.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				syncer.AssertNotCalled(t, "DeleteByExternalID", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestProfile(t *testing.T) {
	last := "Lovelace"
	empty := ""

	tests := []struct {
		name string
		user EventUser
		want users.Profile
	}{
		{
			name: "last name only",
			user: EventUser{ID: "e1", LastName: &last},
			want: users.Profile{ExternalID: "e1", DisplayName: "Lovelace"},
		},
		{
			name: "no names",
			user: EventUser{ID: "e2", FirstName: &empty},
			want: users.Profile{ExternalID: "e2", DisplayName: users.AnonymousName},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.user.Profile())
		})
	}
}
