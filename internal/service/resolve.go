package service

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"TrendRadar/internal/config"
	"TrendRadar/internal/model"
	"TrendRadar/internal/repository"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ResolverService 原始名称→实体的归一服务。
// 内存索引覆盖全部实体（含停用），每个周期开始时刷新一次
type ResolverService struct {
	cfg        *config.ResolverConfig
	entityRepo repository.EntityRepository
	logger     *logrus.Logger

	mu      sync.RWMutex
	exact   map[string]uint64 // 规范化串→实体ID（名称+别名）
	entries []indexEntry      // 模糊匹配用的全量条目
}

type indexEntry struct {
	canonical string
	entityID  uint64
}

func NewResolverService(cfg *config.ResolverConfig, entityRepo repository.EntityRepository, logger *logrus.Logger) *ResolverService {
	return &ResolverService{
		cfg:        cfg,
		entityRepo: entityRepo,
		logger:     logger,
		exact:      make(map[string]uint64),
	}
}

// Refresh 重建内存索引（周期开始时调用）
func (s *ResolverService) Refresh(ctx context.Context) error {
	entities, err := s.entityRepo.ListAll(ctx)
	if err != nil {
		return err
	}
	exact := make(map[string]uint64, len(entities))
	var entries []indexEntry
	for _, e := range entities {
		for _, nm := range entityNames(e) {
			c := Canonicalize(nm)
			if c == "" {
				continue
			}
			if _, dup := exact[c]; !dup {
				exact[c] = e.ID
				entries = append(entries, indexEntry{canonical: c, entityID: e.ID})
			}
		}
	}
	s.mu.Lock()
	s.exact = exact
	s.entries = entries
	s.mu.Unlock()
	return nil
}

// AddEntity 提升新实体后追加进索引，当前周期内即可命中
func (s *ResolverService) AddEntity(e *model.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, nm := range entityNames(e) {
		c := Canonicalize(nm)
		if c == "" {
			continue
		}
		if _, dup := s.exact[c]; !dup {
			s.exact[c] = e.ID
			s.entries = append(s.entries, indexEntry{canonical: c, entityID: e.ID})
		}
	}
}

// Resolve 归一：先精确匹配名称与别名，再做保守的模糊匹配。
// 两个不同实体在门限之上打平时判定歧义，交给发现流程而不是猜测
func (s *ResolverService) Resolve(ctx context.Context, rawName string) (uint64, bool) {
	c := Canonicalize(rawName)
	if c == "" {
		return 0, false
	}

	s.mu.RLock()
	if id, ok := s.exact[c]; ok {
		s.mu.RUnlock()
		return id, true
	}

	// 模糊匹配：记录最优与次优（不同实体）的相似度
	var bestID uint64
	var best, second float64
	for _, ent := range s.entries {
		sim := similarity(c, ent.canonical)
		if ent.entityID == bestID {
			if sim > best {
				best = sim
			}
			continue
		}
		if sim > best {
			second = best
			bestID, best = ent.entityID, sim
		} else if sim > second {
			second = sim
		}
	}
	s.mu.RUnlock()

	if best < s.cfg.SimilarityThreshold {
		return 0, false
	}
	if second >= s.cfg.SimilarityThreshold && best-second < s.cfg.AmbiguityBand {
		s.logger.WithFields(logrus.Fields{
			"raw_name": rawName,
			"best":     best,
			"second":   second,
		}).Warn("别名归一存在歧义，按未归一处理")
		return 0, false
	}

	// 模糊命中：把原始名追加为别名（按规范化串去重）并更新索引
	if err := s.entityRepo.AppendAlias(ctx, bestID, rawName); err != nil {
		s.logger.WithError(err).WithField("raw_name", rawName).Warn("追加别名失败")
	} else {
		s.mu.Lock()
		if _, dup := s.exact[c]; !dup {
			s.exact[c] = bestID
			s.entries = append(s.entries, indexEntry{canonical: c, entityID: bestID})
		}
		s.mu.Unlock()
	}
	return bestID, true
}

var nonAlphaNum = regexp.MustCompile(`[^a-z0-9\s]+`)
var multiSpace = regexp.MustCompile(`\s+`)

// 去重音变换：NFD分解后剔除组合记号
var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Canonicalize 规范化：小写、去重音、去标点、压缩空白
func Canonicalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if folded, _, err := transform.String(diacriticStripper, s); err == nil {
		s = folded
	}
	s = nonAlphaNum.ReplaceAllString(s, " ")
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// similarity 归一化编辑距离相似度：1 - dist/maxLen
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 0
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(maxLen)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func entityNames(e *model.Entity) []string {
	names := []string{e.Name}
	if len(e.Aliases) > 0 {
		var aliases []string
		if err := json.Unmarshal(e.Aliases, &aliases); err == nil {
			names = append(names, aliases...)
		}
	}
	return names
}
