package gdelt

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"regexp"
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
	adapter.Register("gdelt", NewGdeltAdapter)
}

type Adapter struct {
	name       string
	cfg        *config.SourceConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewGdeltAdapter(name string, cfg *config.SourceConfig, logger *logrus.Logger) interfaces.SourceAdapter {
	return &Adapter{
		name:       name,
		cfg:        cfg,
		httpClient: httpclient.NewHTTPClient(cfg, logger),
		logger:     logger,
	}
}

func (a *Adapter) GetName() string           { return a.name }
func (a *Adapter) GetType() model.SourceType { return model.SourceTypePress }

var (
	personListPattern = regexp.MustCompile(`^[A-Z][a-z]+ [A-Z][a-z]+(;|$)`)
	tonePattern       = regexp.MustCompile(`^-?\d+(\.\d+)?,`)
)

// FetchSignals 拉取最近一个完整15分钟批次的GKG表，按人名聚合提及量与平均语调
func (a *Adapter) FetchSignals(ctx context.Context, since time.Time) ([]*model.RawSignal, error) {
	_ = since // GKG按15分钟批次发布，始终取最近完整批次
	now := time.Now().UTC()
	slot := now.Truncate(15 * time.Minute).Add(-15 * time.Minute)

	url := fmt.Sprintf("%s/%s.gkg.csv", a.cfg.BaseURL, slot.Format("20060102150405"))
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

	// GKG表无表头，列语义靠启发式探测（人名列为分号分隔的姓名串，语调列以逗号分隔的数值开头）
	var rows [][]string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		rows = append(rows, strings.Split(line, "\t"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrParse, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	nameCol, toneCol := detectColumns(rows)
	if nameCol < 0 {
		return nil, fmt.Errorf("%w: 未检测到人名列", model.ErrParse)
	}

	mentions := make(map[string]float64)
	toneSum := make(map[string]float64)
	toneCnt := make(map[string]float64)
	for _, row := range rows {
		if nameCol >= len(row) {
			continue
		}
		var tone float64
		var hasTone bool
		if toneCol >= 0 && toneCol < len(row) {
			head, _, _ := strings.Cut(row[toneCol], ",")
			if v, err := strconv.ParseFloat(head, 64); err == nil {
				tone, hasTone = v, true
			}
		}
		for _, nm := range strings.Split(row[nameCol], ";") {
			nm = strings.TrimSpace(nm)
			if nm == "" {
				continue
			}
			mentions[nm]++
			if hasTone {
				toneSum[nm] += tone
				toneCnt[nm]++
			}
		}
	}

	var signals []*model.RawSignal
	for nm, c := range mentions {
		signals = append(signals, &model.RawSignal{
			EntityName: nm,
			Source:     a.name,
			SourceType: a.GetType(),
			Metric:     "gkg_mentions",
			Ts:         now,
			Value:      c,
		})
		if toneCnt[nm] > 0 {
			signals = append(signals, &model.RawSignal{
				EntityName: nm,
				Source:     a.name,
				SourceType: a.GetType(),
				Metric:     "gkg_tone_avg",
				Ts:         now,
				Value:      toneSum[nm] / toneCnt[nm],
			})
		}
	}
	return signals, nil
}

// detectColumns 按采样行内容占比探测人名列与语调列；语调列缺省落在34列（GKG 2.1）
func detectColumns(rows [][]string) (nameCol, toneCol int) {
	nameCol, toneCol = -1, -1
	sample := rows
	if len(sample) > 50 {
		sample = sample[:50]
	}
	cols := 0
	for _, r := range sample {
		if len(r) > cols {
			cols = len(r)
		}
	}
	for i := 0; i < cols; i++ {
		var nameHits, toneHits, seen float64
		for _, r := range sample {
			if i >= len(r) || r[i] == "" {
				continue
			}
			seen++
			if personListPattern.MatchString(r[i]) {
				nameHits++
			}
			if tonePattern.MatchString(r[i]) {
				toneHits++
			}
		}
		if seen == 0 {
			continue
		}
		if nameCol < 0 && nameHits/seen > 0.3 {
			nameCol = i
		}
		if toneCol < 0 && toneHits/seen > 0.3 && i != nameCol {
			toneCol = i
		}
	}
	if toneCol < 0 && cols > 34 {
		toneCol = 34
	}
	return nameCol, toneCol
}
