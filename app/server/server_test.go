package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tubeforge/app/config"
	"tubeforge/app/database"
	"tubeforge/app/logger"
	"tubeforge/app/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	inactive := false

	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, database.AutoMigrate(db))

	cfg := &config.Config{
		Server: config.ServerConfig{Port: "0", Username: "ops", Password: "secret123"},
		JWT:    config.JWTConfig{Secret: "test-secret", ExpireTime: 1, Issuer: "tubeforge"},
		Quota: config.QuotaConfig{
			DailyLimit: 10000,
			Costs:      map[string]int{"upload": 1600},
		},
		Channels: []config.ChannelConfig{
			{ChannelID: "A", Name: "频道A"},
			{ChannelID: "B", Name: "频道B", Active: &inactive},
		},
	}
	log := logger.NewNop()
	require.NoError(t, database.SyncChannels(db, cfg.Channels, log))
	require.NoError(t, database.InitOperator(db, cfg, log))

	return New(cfg, db, log), db
}

func do(t *testing.T, s *Server, method, path, token string, body any) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp apiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func login(t *testing.T, s *Server) string {
	t.Helper()
	w, resp := do(t, s, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "ops", "password": "secret123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s, _ := newTestServer(t)
	w, _ := do(t, s, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "ops", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s, _ := newTestServer(t)
	w, _ := do(t, s, http.MethodGet, "/api/tasks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, s, http.MethodGet, "/api/tasks", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTaskLifecycleOverAPI(t *testing.T) {
	s, db := newTestServer(t)
	token := login(t, s)

	w, resp := do(t, s, http.MethodPost, "/api/tasks", token, map[string]any{"channel_id": "A", "title": "深海探秘"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var task model.Task
	require.NoError(t, json.Unmarshal(resp.Data, &task))
	assert.Equal(t, model.StatusDraft, task.Status)

	w, resp = do(t, s, http.MethodPost, fmt.Sprintf("/api/tasks/%d/submit", task.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, &task))
	assert.Equal(t, model.StatusQueued, task.Status)

	// 未到审核状态时不能审核
	w, _ = do(t, s, http.MethodPost, fmt.Sprintf("/api/tasks/%d/approve", task.ID), token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, db.Model(&model.Task{}).Where("id = ?", task.ID).Update("status", model.StatusFinalReview).Error)
	w, resp = do(t, s, http.MethodPost, fmt.Sprintf("/api/tasks/%d/approve", task.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, &task))
	assert.Equal(t, model.StatusApproved, task.Status)

	w, _ = do(t, s, http.MethodGet, "/api/tasks/9999", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = do(t, s, http.MethodGet, "/api/tasks/status-counts", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var counts map[string]int64
	require.NoError(t, json.Unmarshal(resp.Data, &counts))
	assert.EqualValues(t, 1, counts[string(model.StatusApproved)])
}

func TestRemediateOverAPI(t *testing.T) {
	s, db := newTestServer(t)
	token := login(t, s)

	task := model.Task{ChannelID: "A", Title: "t", Status: model.StatusUploadError, Priority: model.PriorityNormal}
	require.NoError(t, db.Create(&task).Error)

	w, resp := do(t, s, http.MethodPost, fmt.Sprintf("/api/tasks/%d/remediate", task.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, &task))
	assert.Equal(t, model.StatusApproved, task.Status)
}

func TestCreateTaskForUnknownChannel(t *testing.T) {
	s, _ := newTestServer(t)
	token := login(t, s)

	w, _ := do(t, s, http.MethodPost, "/api/tasks", token, map[string]any{"channel_id": "Z", "title": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuotaAndChannelsOverAPI(t *testing.T) {
	s, _ := newTestServer(t)
	token := login(t, s)

	w, resp := do(t, s, http.MethodGet, "/api/channels", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var channels []model.Channel
	require.NoError(t, json.Unmarshal(resp.Data, &channels))
	require.Len(t, channels, 1)
	assert.Equal(t, "A", channels[0].ChannelID)

	w, resp = do(t, s, http.MethodGet, "/api/quota/A", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec model.QuotaRecord
	require.NoError(t, json.Unmarshal(resp.Data, &rec))
	assert.Equal(t, 0, rec.UnitsUsed)
	assert.Equal(t, 10000, rec.DailyLimit)

	var view struct {
		Remaining     int     `json:"remaining"`
		UsageFraction float64 `json:"usage_fraction"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	assert.Equal(t, 10000, view.Remaining)
	assert.Zero(t, view.UsageFraction)

	w, _ = do(t, s, http.MethodGet, "/api/quota/Z", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
