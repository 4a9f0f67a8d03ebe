package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

func newMockDB(t *testing.T) (*HealthChecker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewHealthChecker(db, nil, "test"), mock
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestHealthChecker_Check_Healthy(t *testing.T) {
	h, mock := newMockDB(t)
	_, client := newRedis(t)
	h.redis = client

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	status := h.Check(context.Background())
	if status.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy: %+v", status.Status, status.Dependencies)
	}
	if status.Version != "test" {
		t.Errorf("version = %q", status.Version)
	}
	if _, ok := status.Dependencies["redis"]; !ok {
		t.Error("expected redis dependency")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHealthChecker_Check_DatabaseDown(t *testing.T) {
	h, mock := newMockDB(t)
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection refused"))

	status := h.Check(context.Background())
	if status.Status != StatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", status.Status)
	}
	if msg := status.Dependencies["database"].Message; msg != "query failed: connection refused" {
		t.Errorf("message = %q", msg)
	}
}

func TestHealthChecker_Check_RedisDownDegrades(t *testing.T) {
	h, mock := newMockDB(t)
	mr, client := newRedis(t)
	h.redis = client
	mr.Close()

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	status := h.Check(context.Background())
	if status.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", status.Status)
	}
	if status.Dependencies["redis"].Status != StatusUnhealthy {
		t.Errorf("redis status = %s", status.Dependencies["redis"].Status)
	}
}

func TestHealthRoutes(t *testing.T) {
	h, mock := newMockDB(t)
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("down"))

	router := mux.NewRouter()
	RegisterHealthRoutes(router, h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz status = %d", rec.Code)
	}

	var body HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != StatusUnhealthy {
		t.Errorf("body status = %s", body.Status)
	}
}
