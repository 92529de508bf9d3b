package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/chat2course/internal/logger"
	"github.com/rcliao/chat2course/internal/model"
	"github.com/rcliao/chat2course/internal/orchestrator"
	"github.com/rcliao/chat2course/internal/store"
)

type fakeService struct {
	gotName     string
	gotContinue bool
	resp        *orchestrator.Response
}

func (f *fakeService) CreateOrResume(_ context.Context, _, name string, cont bool) (*orchestrator.Response, error) {
	f.gotName, f.gotContinue = name, cont
	return f.resp, nil
}

func (f *fakeService) Continue(_ context.Context, id, _ string) (*orchestrator.Response, error) {
	if id == "missing" {
		return &orchestrator.Response{Status: orchestrator.StatusNotFound, SessionID: id, Message: "gone"}, nil
	}
	return f.resp, nil
}

func (f *fakeService) Status(_ context.Context, id string) (*orchestrator.Snapshot, error) {
	if id == "missing" {
		return nil, store.ErrNotFound
	}
	return &orchestrator.Snapshot{Session: model.Session{ID: id, State: model.StatePaused}}, nil
}

func (f *fakeService) Analyze(text string) model.Analysis {
	return model.Analysis{ContentLength: len(text), Strategy: model.StrategySinglePass}
}

func (f *fakeService) Analytics(context.Context) (*orchestrator.Report, error) {
	return &orchestrator.Report{Analytics: &store.Analytics{}}, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func newRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(svc, logger.Nop())
}

func TestCreateCourse(t *testing.T) {
	svc := &fakeService{resp: &orchestrator.Response{Success: true, Status: orchestrator.StatusCompleted, SessionID: "s1", Message: "done"}}
	r := newRouter(svc)

	w, env := do(t, r, http.MethodPost, "/courses", `{"content":"chat","course_name":"Go"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	assert.Equal(t, "Go", svc.gotName)
	assert.Contains(t, string(env.Data), `"session_id":"s1"`)
}

func TestCreateCourse_ContinuePreviousDefaultsTrue(t *testing.T) {
	svc := &fakeService{resp: &orchestrator.Response{Success: true, Status: orchestrator.StatusInProgress, SessionID: "s1"}}
	r := newRouter(svc)

	do(t, r, http.MethodPost, "/courses", `{"content":"chat"}`)
	assert.True(t, svc.gotContinue)

	do(t, r, http.MethodPost, "/courses", `{"content":"chat","continue_previous":false}`)
	assert.False(t, svc.gotContinue)
}

func TestCreateCourse_MissingContent(t *testing.T) {
	w, env := do(t, newRouter(&fakeService{}), http.MethodPost, "/courses", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40001, env.Code)
}

func TestContinueSession_NotFound(t *testing.T) {
	w, env := do(t, newRouter(&fakeService{}), http.MethodPost, "/sessions/missing/continue", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "gone", env.Message)
}

func TestContinueSession_Retryable(t *testing.T) {
	svc := &fakeService{resp: &orchestrator.Response{Status: orchestrator.StatusRetryable, SessionID: "s1"}}
	w, _ := do(t, newRouter(svc), http.MethodPost, "/sessions/s1/continue", `{"additional_content":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetSession(t *testing.T) {
	r := newRouter(&fakeService{})

	w, env := do(t, r, http.MethodGet, "/sessions/s1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"state":"paused"`)

	w, _ = do(t, r, http.MethodGet, "/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalyzeAndAnalytics(t *testing.T) {
	r := newRouter(&fakeService{})

	w, env := do(t, r, http.MethodPost, "/analyze", `{"content":"hello"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"recommended_strategy":"single_pass"`)

	w, _ = do(t, r, http.MethodGet, "/analytics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	w, env := do(t, newRouter(&fakeService{}), http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, env.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	newRouter(&fakeService{}).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
