package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore/entities"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRuleRoutes_CRUD(t *testing.T) {
	t.Parallel()

	h := NewServer(Config{}, openRepo(t), logger.NewNop(), Options{}).Handler()

	rec := do(t, h, http.MethodPost, "/api/rules", `{"name":"Feed cat","description":"bowl","entity_id":"sensor.bowl"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created entities.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)

	rec = do(t, h, http.MethodPost, "/api/rules", `{"name":"Feed cat","description":"bowl","entity_id":"sensor.bowl"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, "duplicates are allowed")

	rec = do(t, h, http.MethodGet, "/api/rules", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rules []entities.Rule `json:"rules"`
		Count int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	assert.Less(t, list.Rules[0].ID, list.Rules[1].ID)

	path := "/api/rules/" + jsonInt(int(created.ID))
	rec = do(t, h, http.MethodPut, path, `{"name":"Feed dog","entity_id":"sensor.dog_bowl"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, path, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got entities.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, entities.Rule{ID: created.ID, Name: "Feed dog", EntityID: "sensor.dog_bowl"}, got)

	rec = do(t, h, http.MethodDelete, path, "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, path, "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code, "deleting a missing rule succeeds")
	rec = do(t, h, http.MethodGet, path, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodPut, path, `{"name":"x"}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/rules", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":1}`, rec.Body.String())
}

func TestRuleRoutes_BadInput(t *testing.T) {
	t.Parallel()

	h := NewServer(Config{}, openRepo(t), logger.NewNop(), Options{}).Handler()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/rules/abc", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/rules", `{"name":`, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/rules/0", `{}`, "").Code)
}

func TestRuleRoutes_StorageErrors(t *testing.T) {
	t.Parallel()

	h := NewServer(Config{}, brokenRepo{}, logger.NewNop(), Options{}).Handler()

	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/api/rules", "", "").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodPost, "/api/rules", `{"name":"x"}`, "").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodDelete, "/api/rules", "", "").Code)
}

func TestRuleRoutes_TokenGuardsMutations(t *testing.T) {
	t.Parallel()

	h := NewServer(Config{Token: "s3cret"}, openRepo(t), logger.NewNop(), Options{}).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/rules", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/rules", `{"name":"x"}`, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/rules", `{"name":"x"}`, "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodDelete, "/api/rules", "", "").Code)
	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/rules", `{"name":"x"}`, "s3cret").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "localtodo_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	unhealthy := false
	h := NewServer(Config{}, openRepo(t), logger.NewNop(), Options{
		Gatherer: reg,
		Health: func(context.Context) error {
			if unhealthy {
				return errDiskFull
			}
			return nil
		},
	}).Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "localtodo_test_total 1")

	unhealthy = true
	rec = do(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
