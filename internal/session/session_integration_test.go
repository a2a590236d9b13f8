package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/apiclient"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/auth"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/backend"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/database"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/realtime"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/server"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/users"
	"go.uber.org/zap"
)

type counterIDs struct {
	mu   sync.Mutex
	next int
}

func (c *counterIDs) NewID() (model.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return model.ID(fmt.Sprintf("srv-%d", c.next)), nil
}

type devBackend struct {
	url string
}

func startDevBackend(t *testing.T) *devBackend {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "sync.db"), zap.NewNop())
	require.NoError(t, err)

	ids := &counterIDs{}
	backendService, err := backend.NewService(backend.ServiceConfig{Database: db, IDProvider: ids})
	require.NoError(t, err)
	userService, err := users.NewService(users.ServiceConfig{Database: db, IDProvider: ids})
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte("secret"), Issuer: "mhl-devserver", TokenTTL: time.Hour})
	require.NoError(t, err)
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{SigningSecret: []byte("secret"), Issuer: "mhl-devserver"})
	require.NoError(t, err)

	hub := server.NewRealtimeHub()
	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenIssuer:      issuer,
		SessionValidator: validator,
		Users:            userService,
		Backend:          backendService,
		Realtime:         hub,
	})
	require.NoError(t, err)
	httpServer := httptest.NewServer(handler)
	t.Cleanup(func() {
		hub.Close()
		httpServer.Close()
	})
	return &devBackend{url: httpServer.URL}
}

func (b *devBackend) post(t *testing.T, path, token string, body any, out any) {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	request, err := http.NewRequest(http.MethodPost, b.url+path, bytes.NewReader(encoded))
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
		request.Header.Set(apiclient.TenantHeader, "acme")
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()
	require.Less(t, response.StatusCode, http.StatusMultipleChoices, "POST %s", path)
	if out != nil {
		require.NoError(t, json.NewDecoder(response.Body).Decode(out))
	}
}

func (b *devBackend) token(t *testing.T, login, userID string) string {
	t.Helper()
	var response struct {
		AccessToken string `json:"access_token"`
	}
	b.post(t, "/auth/dev-token", "", map[string]string{"tenant_id": "acme", "login": login, "user_id": userID}, &response)
	require.NotEmpty(t, response.AccessToken)
	return response.AccessToken
}

func containsText(items []model.AppNotification, text string) bool {
	for _, item := range items {
		if item.Text == text {
			return true
		}
	}
	return false
}

func TestSessionAgainstDevBackend(t *testing.T) {
	dev := startDevBackend(t)
	token := dev.token(t, "pm@example.com", "user-1")

	dev.post(t, "/api/agenda", token, model.EventDraft{Title: "Slab inspection", Date: "2024-05-02", Time: "09:30", Type: model.EventTypeInspection}, nil)
	dev.post(t, "/api/notifications", token, map[string]string{"recipientId": "user-1", "message": "Budget approved", "category": "BUDGET"}, nil)

	sess, err := New(Config{
		BaseURL:      dev.url,
		TenantID:     "acme",
		Token:        token,
		Timeout:      2 * time.Second,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
	})
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, model.ID("user-1"), sess.UserID())

	ctx := context.Background()
	require.NoError(t, sess.Start(ctx))

	require.Eventually(t, func() bool {
		return len(sess.Agenda().Events()) == 1 && len(sess.Notifications().Notifications()) == 1
	}, waitFor, 20*time.Millisecond, "initial hydration")
	require.Eventually(t, func() bool {
		return sess.Channel().State() == realtime.StateConnected
	}, waitFor, 10*time.Millisecond)

	// Live pushes: only the entry addressed to this user (or broadcast) lands.
	dev.post(t, "/api/notifications", token, map[string]string{"recipientId": "user-2", "message": "Not for me"}, nil)
	dev.post(t, "/api/notifications", token, map[string]string{"message": "Site closed tomorrow", "type": "WARNING"}, nil)
	require.Eventually(t, func() bool {
		return containsText(sess.Notifications().Notifications(), "Site closed tomorrow")
	}, waitFor, 20*time.Millisecond, "live broadcast")
	assert.False(t, containsText(sess.Notifications().Notifications(), "Not for me"))
	assert.Equal(t, 2, sess.Notifications().UnreadCount())

	// A confirmed write is visible at once; the agenda_updated push refetches.
	created, err := sess.Agenda().Add(ctx, model.EventDraft{Title: "Walkthrough", Date: "2024-05-03", Type: model.EventTypeMeeting})
	require.NoError(t, err)
	_, ok := sess.Agenda().Event(created.ID)
	require.True(t, ok)

	require.NoError(t, sess.Notifications().MarkAllAsRead(ctx))
	assert.Zero(t, sess.Notifications().UnreadCount())

	// Entries created while backgrounded arrive with the refetch that
	// follows the next handshake.
	sess.SetForeground(false)
	require.Eventually(t, func() bool {
		return sess.Channel().State() == realtime.StateDisconnected
	}, waitFor, 10*time.Millisecond)
	dev.post(t, "/api/notifications", token, map[string]string{"recipientId": "user-1", "message": "Missed while away", "category": "CHECKLIST"}, nil)
	assert.False(t, containsText(sess.Notifications().Notifications(), "Missed while away"))

	sess.SetForeground(true)
	require.Eventually(t, func() bool {
		return containsText(sess.Notifications().Notifications(), "Missed while away")
	}, waitFor, 20*time.Millisecond, "reconnect refetch")
	assert.Equal(t, 1, sess.Notifications().UnreadCount())
	assert.Len(t, sess.Agenda().Events(), 2)
}
