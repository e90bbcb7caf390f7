package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendlab/internal/config"
	"trendlab/internal/monitoring"
	"trendlab/internal/strategy/optimizer"
	"trendlab/internal/testutils"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Host: "127.0.0.1",
		Port: 0,
		RateLimit: config.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 1000,
			Burst:             1000,
		},
	}
}

// finishedStudy runs a small grid study where x == 3 fails, x == 9 is
// infeasible and the objective is x otherwise.
func finishedStudy(t *testing.T, listeners ...optimizer.Listener) *optimizer.Study {
	space := optimizer.Space{{Name: "x", Kind: optimizer.KindInt, Low: 0, High: 9, Step: 1}}
	eval := optimizer.EvaluatorFunc(func(_ context.Context, p optimizer.ParameterSet) (*optimizer.TrialResult, error) {
		switch x := p["x"]; {
		case x == 3:
			return nil, errors.New("malformed bars")
		case x == 9:
			return &optimizer.TrialResult{Feasible: false, Reason: optimizer.ReasonMarginFailure}, nil
		default:
			return &optimizer.TrialResult{Objective: x, Feasible: true}, nil
		}
	})

	opts := []optimizer.Option{optimizer.WithLogger(testutils.NewTestSuite(t, nil).Logger)}
	for _, l := range listeners {
		opts = append(opts, optimizer.WithListener(l))
	}
	study, err := optimizer.NewStudy(optimizer.Config{Name: "api", Trials: 10, Workers: 2, Constraints: optimizer.DefaultConstraints()},
		space, optimizer.NewGridSampler(), eval, opts...)
	require.NoError(t, err)
	_, err = study.Run(context.Background())
	require.NoError(t, err)
	return study
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(testConfig(),
		WithHealthCheck("redis", func(context.Context) error { return nil }),
		WithHealthCheck("database", func(context.Context) error { return errors.New("down") }),
	)
	h := testutils.NewHTTPTestHelper(t, server.Handler())

	var body struct {
		Status   string                       `json:"status"`
		Services map[string]map[string]string `json:"services"`
	}
	require.NoError(t, h.GET("/health").AssertStatus(http.StatusOK).GetJSON(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Services["redis"]["status"])
	assert.Equal(t, "down", body.Services["database"]["error"])
}

func TestStudyEndpointsWithoutStudy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := testutils.NewHTTPTestHelper(t, NewServer(testConfig()).Handler())

	for _, path := range []string{"/api/v1/study", "/api/v1/study/best", "/api/v1/study/trials", "/api/v1/study/trials/0"} {
		h.GET(path).AssertStatus(http.StatusNotFound).AssertContains("NOT_FOUND")
	}
	h.POST("/api/v1/study/run", nil).AssertStatus(http.StatusNotFound)
}

func TestStudyEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(testConfig())
	server.SetStudy(finishedStudy(t))
	h := testutils.NewHTTPTestHelper(t, server.Handler())

	t.Run("summary", func(t *testing.T) {
		var resp struct {
			Success bool              `json:"success"`
			Data    optimizer.Summary `json:"data"`
		}
		require.NoError(t, h.GET("/api/v1/study").AssertStatus(http.StatusOK).GetJSON(&resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "api", resp.Data.Study.Name)
		assert.Equal(t, 9, resp.Data.Completed)
		assert.Equal(t, 1, resp.Data.Failed)
		assert.Equal(t, 1, resp.Data.Infeasible)
	})

	t.Run("best", func(t *testing.T) {
		var resp struct {
			Data optimizer.Trial `json:"data"`
		}
		require.NoError(t, h.GET("/api/v1/study/best").AssertStatus(http.StatusOK).GetJSON(&resp))
		assert.Equal(t, 8.0, resp.Data.Objective)
		assert.Equal(t, 8.0, resp.Data.Params["x"])
	})

	t.Run("trials filtered and paged", func(t *testing.T) {
		var resp struct {
			Data TrialPage `json:"data"`
		}
		require.NoError(t, h.GET("/api/v1/study/trials?state=complete&feasible=true&limit=3&offset=2").
			AssertStatus(http.StatusOK).GetJSON(&resp))
		assert.Equal(t, 8, resp.Data.Total)
		assert.Len(t, resp.Data.Trials, 3)
		for _, trial := range resp.Data.Trials {
			assert.True(t, trial.Feasible)
		}

		require.NoError(t, h.GET("/api/v1/study/trials?state=failed").GetJSON(&resp))
		require.Len(t, resp.Data.Trials, 1)
		assert.Equal(t, 3.0, resp.Data.Trials[0].Params["x"])

		require.NoError(t, h.GET("/api/v1/study/trials?offset=100").GetJSON(&resp))
		assert.Empty(t, resp.Data.Trials)
	})

	t.Run("bad query", func(t *testing.T) {
		h.GET("/api/v1/study/trials?limit=-1").AssertStatus(http.StatusBadRequest).AssertContains("INVALID_INPUT")
		h.GET("/api/v1/study/trials?feasible=maybe").AssertStatus(http.StatusBadRequest)
		h.GET("/api/v1/study/trials/abc").AssertStatus(http.StatusBadRequest)
		h.GET("/api/v1/study/trials/42").AssertStatus(http.StatusNotFound)
	})

	t.Run("single trial", func(t *testing.T) {
		var resp struct {
			Data optimizer.Trial `json:"data"`
		}
		require.NoError(t, h.GET("/api/v1/study/trials/0").AssertStatus(http.StatusOK).GetJSON(&resp))
		assert.Equal(t, 0, resp.Data.Number)
	})
}

func TestRunTrigger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	calls := 0
	server := NewServer(testConfig(), WithTrigger(func() error {
		calls++
		if calls > 1 {
			return errors.New("already running")
		}
		return nil
	}))
	h := testutils.NewHTTPTestHelper(t, server.Handler())

	h.POST("/api/v1/study/run", nil).AssertStatus(http.StatusAccepted)
	h.POST("/api/v1/study/run", nil).AssertStatus(http.StatusInternalServerError)
	assert.Equal(t, 2, calls)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	cfg.RateLimit.RequestsPerSecond = 0.01
	cfg.RateLimit.Burst = 1
	h := testutils.NewHTTPTestHelper(t, NewServer(cfg).Handler())

	h.GET("/health").AssertStatus(http.StatusOK)
	h.GET("/health").AssertStatus(http.StatusTooManyRequests)
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	server := NewServer(testConfig(), WithMetrics(metrics))
	server.SetStudy(finishedStudy(t, metrics))
	h := testutils.NewHTTPTestHelper(t, server.Handler())

	h.GET("/api/v1/study").AssertStatus(http.StatusOK)
	h.GET("/metrics").
		AssertStatus(http.StatusOK).
		AssertContains("trendlab_study_trials_total").
		AssertContains("trendlab_study_best_objective").
		AssertContains(`endpoint="/api/v1/study"`)
}

func TestTrialStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(testConfig())
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/trials"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello.Type)
	assert.Equal(t, 1, server.Hub().Count())

	study := optimizer.StudyInfo{ID: "s1", Name: "stream"}
	trial := optimizer.Trial{Number: 7, State: optimizer.TrialComplete, Objective: 1.5, Feasible: true}
	server.Hub().OnTrial(study, trial, &trial)

	var event struct {
		Type string     `json:"type"`
		Data TrialEvent `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "trial", event.Type)
	assert.Equal(t, "s1", event.Data.StudyID)
	assert.Equal(t, 7, event.Data.Trial.Number)
	require.NotNil(t, event.Data.Best)
	assert.Equal(t, 1.5, event.Data.Best.Objective)

	server.Hub().Close()
	testutils.WaitForCondition(t, func() bool { return server.Hub().Count() == 0 }, time.Second, "hub should drop clients on close")
}
