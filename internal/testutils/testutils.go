package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendlab/internal/logger"
	"trendlab/internal/market"
)

// TestConfig 测试配置
type TestConfig struct {
	LogLevel logger.LogLevel
	TempDir  string
}

// DefaultTestConfig 默认测试配置
func DefaultTestConfig() *TestConfig {
	return &TestConfig{
		LogLevel: logger.LevelError, // 测试时减少日志输出
	}
}

// TestSuite 测试套件
type TestSuite struct {
	T       *testing.T
	Config  *TestConfig
	Logger  logger.Logger
	Output  *bytes.Buffer
	TempDir string
	Cleanup []func()
}

// NewTestSuite 创建测试套件. Log output is captured in Output.
func NewTestSuite(t *testing.T, config *TestConfig) *TestSuite {
	if config == nil {
		config = DefaultTestConfig()
	}

	tempDir := config.TempDir
	if tempDir == "" {
		tempDir = t.TempDir()
	}

	out := &bytes.Buffer{}
	testLogger := logger.NewLoggerWithWriter(logger.Config{
		Level:  config.LogLevel,
		Format: logger.FormatJSON,
		Output: "stdout",
	}, out)

	suite := &TestSuite{
		T:       t,
		Config:  config,
		Logger:  testLogger,
		Output:  out,
		TempDir: tempDir,
	}
	t.Cleanup(suite.TearDown)
	return suite
}

// AddCleanup 添加清理函数
func (s *TestSuite) AddCleanup(cleanup func()) {
	s.Cleanup = append(s.Cleanup, cleanup)
}

// TearDown 清理测试环境
func (s *TestSuite) TearDown() {
	for i := len(s.Cleanup) - 1; i >= 0; i-- {
		s.Cleanup[i]()
	}
	s.Cleanup = nil
}

// CreateTempFile 创建临时文件
func (s *TestSuite) CreateTempFile(name, content string) string {
	filePath := filepath.Join(s.TempDir, name)
	err := os.WriteFile(filePath, []byte(content), 0644)
	require.NoError(s.T, err)
	return filePath
}

// WriteBarsCSV writes bars in the CSV feed layout and returns the path.
func (s *TestSuite) WriteBarsCSV(name string, bars []market.Bar) string {
	var b strings.Builder
	b.WriteString("datetime,open,high,low,close,volume\n")
	for _, bar := range bars {
		fmt.Fprintf(&b, "%s,%g,%g,%g,%g,%g\n",
			bar.Time.Format(market.DefaultTimeLayout),
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}
	return s.CreateTempFile(name, b.String())
}

// HTTPTestHelper HTTP测试助手
type HTTPTestHelper struct {
	Router http.Handler
	T      *testing.T
}

// NewHTTPTestHelper 创建HTTP测试助手
func NewHTTPTestHelper(t *testing.T, router http.Handler) *HTTPTestHelper {
	gin.SetMode(gin.TestMode)
	return &HTTPTestHelper{Router: router, T: t}
}

// GET 发送GET请求
func (h *HTTPTestHelper) GET(path string) *HTTPResponse {
	return h.Request(http.MethodGet, path, nil, nil)
}

// POST 发送POST请求
func (h *HTTPTestHelper) POST(path string, body interface{}) *HTTPResponse {
	return h.Request(http.MethodPost, path, body, nil)
}

// Request 发送HTTP请求
func (h *HTTPTestHelper) Request(method, path string, body interface{}, headers map[string]string) *HTTPResponse {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(h.T, err)
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	h.Router.ServeHTTP(w, req)

	return &HTTPResponse{
		StatusCode: w.Code,
		Body:       w.Body.Bytes(),
		Headers:    w.Header(),
		t:          h.T,
	}
}

// HTTPResponse HTTP响应
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	t          *testing.T
}

// AssertStatus 断言状态码
func (r *HTTPResponse) AssertStatus(expectedStatus int) *HTTPResponse {
	assert.Equal(r.t, expectedStatus, r.StatusCode, string(r.Body))
	return r
}

// AssertContains 断言响应包含指定内容
func (r *HTTPResponse) AssertContains(substring string) *HTTPResponse {
	assert.Contains(r.t, string(r.Body), substring)
	return r
}

// GetJSON 获取JSON响应
func (r *HTTPResponse) GetJSON(target interface{}) error {
	return json.Unmarshal(r.Body, target)
}

// BarStart is the timestamp of the first generated bar.
var BarStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// BarInterval is the spacing of generated bars.
const BarInterval = 4 * time.Hour

// Bars builds a bar series whose open, high, low and close are all price(i).
func Bars(n int, price func(i int) float64) []market.Bar {
	out := make([]market.Bar, n)
	for i := range out {
		p := price(i)
		out[i] = market.Bar{
			Time:   BarStart.Add(time.Duration(i) * BarInterval),
			Open:   p,
			High:   p,
			Low:    p,
			Close:  p,
			Volume: 1,
		}
	}
	return out
}

// FlatBars 生成恒定价格序列
func FlatBars(n int, price float64) []market.Bar {
	return Bars(n, func(int) float64 { return price })
}

// TrendingBars 生成带小幅波动的单边序列, step 为每根K线的价格变化
func TrendingBars(n int, start, step float64) []market.Bar {
	return Bars(n, func(i int) float64 {
		return start + step*float64(i) + 0.5*math.Sin(float64(i))
	})
}

// RandomWalkBars 生成可复现的随机游走序列
func RandomWalkBars(n int, start, vol float64, seed int64) []market.Bar {
	rng := rand.New(rand.NewSource(seed))
	price := start
	return Bars(n, func(int) float64 {
		price *= math.Exp(vol * rng.NormFloat64())
		return price
	})
}

// TimeoutContext 创建带超时的上下文
func TimeoutContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// WaitForCondition 等待条件满足
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	ctx, cancel := TimeoutContext(timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// SetEnv 设置环境变量（测试结束后自动恢复）
func SetEnv(t *testing.T, key, value string) {
	t.Setenv(key, value)
}
