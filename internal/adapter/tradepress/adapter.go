package tradepress

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"TrendRadar/internal/adapter"
	"TrendRadar/internal/config"
	"TrendRadar/internal/interfaces"
	"TrendRadar/internal/model"
	"TrendRadar/internal/utils/httpclient"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

func init() {
	adapter.Register("tradepress", NewTradePressAdapter)
}

// 首页头条所在的常见选择器
const headlineSelector = "h1 a, h2 a, h3 a"

type Adapter struct {
	name       string
	cfg        *config.SourceConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewTradePressAdapter(name string, cfg *config.SourceConfig, logger *logrus.Logger) interfaces.SourceAdapter {
	return &Adapter{
		name:       name,
		cfg:        cfg,
		httpClient: httpclient.NewHTTPClient(cfg, logger),
		logger:     logger,
	}
}

func (a *Adapter) GetName() string           { return a.name }
func (a *Adapter) GetType() model.SourceType { return model.SourceTypePress }

// FetchSignals 抓取行业媒体首页头条，按标题中的候选名统计headlines指标
func (a *Adapter) FetchSignals(ctx context.Context, since time.Time) ([]*model.RawSignal, error) {
	_ = since // 首页快照无增量语义
	now := time.Now().UTC()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL, nil)
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

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrParse, err)
	}

	counts := make(map[string]float64)
	doc.Find(headlineSelector).Each(func(_ int, sel *goquery.Selection) {
		for _, nm := range adapter.ExtractProperNames(sel.Text()) {
			counts[nm]++
		}
	})

	signals := make([]*model.RawSignal, 0, len(counts))
	for nm, c := range counts {
		signals = append(signals, &model.RawSignal{
			EntityName: nm,
			Source:     a.name,
			SourceType: a.GetType(),
			Metric:     "headlines",
			Ts:         now,
			Value:      c,
		})
	}
	return signals, nil
}
