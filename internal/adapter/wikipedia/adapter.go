package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
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
	adapter.Register("wikipedia", NewWikipediaAdapter)
}

type Adapter struct {
	name       string
	cfg        *config.SourceConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewWikipediaAdapter(name string, cfg *config.SourceConfig, logger *logrus.Logger) interfaces.SourceAdapter {
	return &Adapter{
		name:       name,
		cfg:        cfg,
		httpClient: httpclient.NewHTTPClient(cfg, logger),
		logger:     logger,
	}
}

func (a *Adapter) GetName() string           { return a.name }
func (a *Adapter) GetType() model.SourceType { return model.SourceTypeReference }

// topResponse 按日Top浏览量响应
type topResponse struct {
	Items []struct {
		Articles []struct {
			Article string  `json:"article"`
			Views   float64 `json:"views"`
		} `json:"articles"`
	} `json:"items"`
}

// 列表页、专题页等非实体条目
var skipPrefixes = []string{"Main_Page", "Special:", "Wikipedia:", "Portal:", "File:", "Help:"}

// FetchSignals 拉取前一日Top浏览条目，产出pageviews指标
func (a *Adapter) FetchSignals(ctx context.Context, since time.Time) ([]*model.RawSignal, error) {
	_ = since // Top榜按完整日发布，取最近一个完整日
	now := time.Now().UTC()
	day := now.AddDate(0, 0, -1)

	url := fmt.Sprintf("%s/top/en.wikipedia/all-access/%04d/%02d/%02d",
		a.cfg.BaseURL, day.Year(), int(day.Month()), day.Day())
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

	var doc topResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrParse, err)
	}

	var signals []*model.RawSignal
	for _, item := range doc.Items {
		for _, art := range item.Articles {
			if skipArticle(art.Article) {
				continue
			}
			signals = append(signals, &model.RawSignal{
				EntityName: strings.ReplaceAll(art.Article, "_", " "),
				Source:     a.name,
				SourceType: a.GetType(),
				Metric:     "pageviews",
				Ts:         now,
				Value:      art.Views,
			})
		}
	}
	return signals, nil
}

func skipArticle(article string) bool {
	for _, p := range skipPrefixes {
		if strings.HasPrefix(article, p) {
			return true
		}
	}
	return false
}
