package reddit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TrendRadar/internal/config"
	"TrendRadar/internal/model"

	"github.com/sirupsen/logrus"
)

func testAdapter(baseURL string) *Adapter {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := &config.SourceConfig{BaseURL: baseURL, Timeout: 5}
	return NewRedditAdapter("reddit", cfg, logger).(*Adapter)
}

func TestFetchSignalsCountsMentions(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	recent := now.Add(-10 * time.Minute).Unix()
	old := now.Add(-2 * time.Hour).Unix()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/r/television/"):
			fmt.Fprintf(w, `{"data":{"children":[
				{"data":{"title":"Pedro Pascal lands new role","created_utc":%d}},
				{"data":{"title":"Zendaya stuns at premiere","created_utc":%d}}
			]}}`, recent, old)
		case strings.HasPrefix(r.URL.Path, "/r/movies/"):
			fmt.Fprintf(w, `{"data":{"children":[
				{"data":{"title":"Pedro Pascal joins ensemble cast","created_utc":%d}}
			]}}`, recent)
		default:
			io.WriteString(w, `{"data":{"children":[]}}`)
		}
	}))
	defer srv.Close()

	signals, err := testAdapter(srv.URL).FetchSignals(context.Background(), now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("FetchSignals returned error: %v", err)
	}

	byName := make(map[string]*model.RawSignal)
	for _, s := range signals {
		byName[s.EntityName] = s
	}
	pp, ok := byName["Pedro Pascal"]
	if !ok {
		t.Fatalf("未抽取到Pedro Pascal，实际: %v", byName)
	}
	// 跨讨论区累计提及量
	if pp.Value != 2 {
		t.Errorf("Pedro Pascal在两个讨论区各出现1次，实际计数%.0f", pp.Value)
	}
	if pp.Metric != "mentions" || pp.SourceType != model.SourceTypeSocial {
		t.Errorf("指标或源类型不对: %+v", pp)
	}
	// since之前的旧帖不计入
	if _, ok := byName["Zendaya"]; ok {
		t.Error("since之前的帖子不应计入提及量")
	}
}

func TestFetchSignalsRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testAdapter(srv.URL).FetchSignals(context.Background(), time.Time{})
	retryAfter, ok := model.IsRateLimited(err)
	if !ok {
		t.Fatalf("429应归类为限流错误，实际%v", err)
	}
	if retryAfter != time.Minute {
		t.Fatalf("应携带Retry-After提示，实际%v", retryAfter)
	}
}

func TestFetchSignalsServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testAdapter(srv.URL).FetchSignals(context.Background(), time.Time{})
	if !errors.Is(err, model.ErrSourceUnavailable) {
		t.Fatalf("5xx应归类为源不可用，实际%v", err)
	}
}
