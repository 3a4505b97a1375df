package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getHealth(t *testing.T, svc *Service) (int, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewApi(svc).RegisterHandlers(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func Test_GetHealth(t *testing.T) {
	var tests = map[string]struct {
		setup      func(s *Service)
		wantCode   int
		wantStatus string
	}{
		"healthy": {
			setup: func(s *Service) {
				s.AddCheck("database", func(context.Context) error { return nil })
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		"ledger down": {
			setup: func(s *Service) {
				s.AddCheck("ledger", func(context.Context) error { return errors.New("dial tcp: refused") })
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		"shutting down": {
			setup:      func(s *Service) { s.Shutdown() },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "shutting down",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			svc := NewService(context.Background())
			tt.setup(svc)

			code, body := getHealth(t, svc)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, body["status"])
		})
	}
}

func Test_Service_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := NewService(ctx)
	assert.False(t, svc.IsShuttingDown())

	cancel()
	assert.True(t, svc.IsShuttingDown())
}

func Test_Service_RunReportsFailures(t *testing.T) {
	svc := NewService(context.Background())
	svc.AddCheck("database", func(context.Context) error { return nil })
	svc.AddCheck("content", func(context.Context) error { return errors.New("no gateway answered") })

	failures := svc.Run(context.Background())
	assert.Equal(t, map[string]string{"content": "no gateway answered"}, failures)
}
