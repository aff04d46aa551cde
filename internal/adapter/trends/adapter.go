package trends

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"TrendRadar/internal/adapter"
	"TrendRadar/internal/config"
	"TrendRadar/internal/interfaces"
	"TrendRadar/internal/model"
	"TrendRadar/internal/utils/httpclient"

	"github.com/sirupsen/logrus"
)

func init() {
	adapter.Register("trends", NewTrendsAdapter)
}

type Adapter struct {
	name       string
	cfg        *config.SourceConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewTrendsAdapter(name string, cfg *config.SourceConfig, logger *logrus.Logger) interfaces.SourceAdapter {
	return &Adapter{
		name:       name,
		cfg:        cfg,
		httpClient: httpclient.NewHTTPClient(cfg, logger),
		logger:     logger,
	}
}

func (a *Adapter) GetName() string           { return a.name }
func (a *Adapter) GetType() model.SourceType { return model.SourceTypeSearch }

// dailyTrends 每日热搜响应（接口返回带")]}',"前缀的JSON）
type dailyTrends struct {
	Default struct {
		TrendingSearchesDays []struct {
			TrendingSearches []struct {
				Title struct {
					Query string `json:"query"`
				} `json:"title"`
				FormattedTraffic string `json:"formattedTraffic"`
			} `json:"trendingSearches"`
		} `json:"trendingSearchesDays"`
	} `json:"default"`
}

// FetchSignals 拉取每日热搜榜，按搜索量折算interest指标
func (a *Adapter) FetchSignals(ctx context.Context, since time.Time) ([]*model.RawSignal, error) {
	_ = since // 热搜榜为快照接口，无增量语义
	now := time.Now().UTC()

	url := fmt.Sprintf("%s/dailytrends?hl=en-US&geo=US&ns=15", a.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "TrendRadar/1.0")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	if err := httpclient.ClassifyStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}

	// 去掉防XSSI前缀后再解码
	payload := strings.TrimPrefix(strings.TrimSpace(string(body)), ")]}',")
	var doc dailyTrends
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrParse, err)
	}

	var signals []*model.RawSignal
	for _, day := range doc.Default.TrendingSearchesDays {
		for _, ts := range day.TrendingSearches {
			q := strings.TrimSpace(ts.Title.Query)
			if q == "" {
				continue
			}
			signals = append(signals, &model.RawSignal{
				EntityName: q,
				Source:     a.name,
				SourceType: a.GetType(),
				Metric:     "interest",
				Ts:         now,
				Value:      parseTraffic(ts.FormattedTraffic),
			})
		}
	}
	return signals, nil
}

// parseTraffic 把"200K+"这类展示值折算为数字；无法解析时按1计
func parseTraffic(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "+")
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "M"):
		mult, s = 1e6, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "K"):
		mult, s = 1e3, strings.TrimSuffix(s, "K")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 {
		return 1
	}
	return v * mult
}
