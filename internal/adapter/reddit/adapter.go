package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"TrendRadar/internal/adapter"
	"TrendRadar/internal/config"
	"TrendRadar/internal/interfaces"
	"TrendRadar/internal/model"
	"TrendRadar/internal/utils/httpclient"

	"github.com/sirupsen/logrus"
)

func init() {
	adapter.Register("reddit", NewRedditAdapter)
}

// 关注的娱乐类讨论区
var subreddits = []string{"television", "movies", "popculture"}

const fetchLimit = 100

type Adapter struct {
	name       string
	cfg        *config.SourceConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewRedditAdapter(name string, cfg *config.SourceConfig, logger *logrus.Logger) interfaces.SourceAdapter {
	return &Adapter{
		name:       name,
		cfg:        cfg,
		httpClient: httpclient.NewHTTPClient(cfg, logger),
		logger:     logger,
	}
}

func (a *Adapter) GetName() string           { return a.name }
func (a *Adapter) GetType() model.SourceType { return model.SourceTypeSocial }

// listing Reddit帖子列表响应（只取需要的字段）
type listing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title      string  `json:"title"`
				CreatedUTC float64 `json:"created_utc"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// FetchSignals 拉取各讨论区新帖，按标题中的候选名统计提及量
func (a *Adapter) FetchSignals(ctx context.Context, since time.Time) ([]*model.RawSignal, error) {
	now := time.Now().UTC()
	counts := make(map[string]float64)

	for _, sub := range subreddits {
		url := fmt.Sprintf("%s/r/%s/new.json?limit=%d", a.cfg.BaseURL, sub, fetchLimit)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("构造请求失败: %w", err)
		}
		req.Header.Set("User-Agent", "TrendRadar/1.0")
		if a.cfg.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+a.cfg.AuthToken)
		}

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
		}

		err = func() error {
			defer resp.Body.Close()
			if err := httpclient.ClassifyStatus(resp); err != nil {
				return err
			}
			var page listing
			if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
				return fmt.Errorf("%w: %v", model.ErrParse, err)
			}
			for _, child := range page.Data.Children {
				created := time.Unix(int64(child.Data.CreatedUTC), 0).UTC()
				if !since.IsZero() && created.Before(since) {
					continue
				}
				for _, nm := range adapter.ExtractProperNames(child.Data.Title) {
					counts[nm]++
				}
			}
			return nil
		}()
		if err != nil {
			return nil, err
		}
	}

	signals := make([]*model.RawSignal, 0, len(counts))
	for nm, c := range counts {
		signals = append(signals, &model.RawSignal{
			EntityName: nm,
			Source:     a.name,
			SourceType: a.GetType(),
			Metric:     "mentions",
			Ts:         now,
			Value:      c,
		})
	}
	return signals, nil
}
