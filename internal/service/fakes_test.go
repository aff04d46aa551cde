package service

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"TrendRadar/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// 内存仓储实现，测试用。行为对齐gorm实现：找不到返回nil或ErrRecordNotFound

type memSignalRepo struct {
	mu        sync.Mutex
	signals   []*model.Signal
	appendErr error
}

func (r *memSignalRepo) Append(_ context.Context, signals []*model.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	for _, s := range signals {
		dup := false
		for _, have := range r.signals {
			if have.EntityID == s.EntityID && have.Source == s.Source &&
				have.Metric == s.Metric && have.Ts.Equal(s.Ts) {
				dup = true
				break
			}
		}
		if !dup {
			cp := *s
			r.signals = append(r.signals, &cp)
		}
	}
	return nil
}

func (r *memSignalRepo) QueryWindow(_ context.Context, entityID uint64, from, to time.Time) ([]*model.Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Signal
	for _, s := range r.signals {
		if s.EntityID == entityID && !s.Ts.Before(from) && !s.Ts.After(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	return out, nil
}

func (r *memSignalRepo) LastSignalTs(_ context.Context, entityID uint64) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last *time.Time
	for _, s := range r.signals {
		if s.EntityID == entityID && (last == nil || s.Ts.After(*last)) {
			ts := s.Ts
			last = &ts
		}
	}
	return last, nil
}

func (r *memSignalRepo) EarliestTs(_ context.Context, entityID uint64, sources []string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inSet := make(map[string]bool, len(sources))
	for _, src := range sources {
		inSet[src] = true
	}
	var earliest *time.Time
	for _, s := range r.signals {
		if s.EntityID != entityID || !inSet[s.Source] {
			continue
		}
		if earliest == nil || s.Ts.Before(*earliest) {
			ts := s.Ts
			earliest = &ts
		}
	}
	return earliest, nil
}

type memEntityRepo struct {
	mu        sync.Mutex
	nextID    uint64
	entities  map[uint64]*model.Entity
	signals   *memSignalRepo // ListStale参照的信号来源，可为nil
	createErr error
}

func newMemEntityRepo(signals *memSignalRepo) *memEntityRepo {
	return &memEntityRepo{entities: make(map[uint64]*model.Entity), signals: signals}
}

func (r *memEntityRepo) Create(_ context.Context, e *model.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	e.ID = r.nextID
	cp := *e
	r.entities[e.ID] = &cp
	return nil
}

func (r *memEntityRepo) GetByID(_ context.Context, id uint64) (*model.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memEntityRepo) List(_ context.Context, activeOnly bool, page, pageSize int) ([]*model.Entity, int64, error) {
	all, _ := r.ListAll(context.Background())
	var filtered []*model.Entity
	for _, e := range all {
		if !activeOnly || e.IsActive {
			filtered = append(filtered, e)
		}
	}
	return filtered, int64(len(filtered)), nil
}

func (r *memEntityRepo) ListAll(_ context.Context) ([]*model.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Entity
	for _, e := range r.entities {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memEntityRepo) AppendAlias(_ context.Context, entityID uint64, alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[entityID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	var aliases []string
	if len(e.Aliases) > 0 {
		if err := json.Unmarshal(e.Aliases, &aliases); err != nil {
			return err
		}
	}
	for _, a := range aliases {
		if a == alias {
			return nil
		}
	}
	aliases = append(aliases, alias)
	raw, err := json.Marshal(aliases)
	if err != nil {
		return err
	}
	e.Aliases = raw
	return nil
}

func (r *memEntityRepo) SetActive(_ context.Context, entityID uint64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[entityID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	e.IsActive = active
	return nil
}

func (r *memEntityRepo) ListStale(_ context.Context, cutoff time.Time) ([]*model.Entity, error) {
	all, _ := r.ListAll(context.Background())
	var out []*model.Entity
	for _, e := range all {
		if !e.IsActive {
			continue
		}
		fresh := false
		if r.signals != nil {
			r.signals.mu.Lock()
			for _, s := range r.signals.signals {
				if s.EntityID == e.ID && !s.Ts.Before(cutoff) {
					fresh = true
					break
				}
			}
			r.signals.mu.Unlock()
		}
		if !fresh {
			out = append(out, e)
		}
	}
	return out, nil
}

type memScoreRepo struct {
	mu     sync.Mutex
	scores []*model.Score
}

func (r *memScoreRepo) Insert(_ context.Context, score *model.Score) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *score
	r.scores = append(r.scores, &cp)
	return nil
}

func (r *memScoreRepo) LatestByEntity(_ context.Context, entityID uint64) (*model.Score, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.Score
	for _, s := range r.scores {
		if s.EntityID == entityID && (latest == nil || s.Ts.After(latest.Ts)) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memScoreRepo) PeakTsSince(_ context.Context, entityID uint64, since time.Time) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var peak *model.Score
	for _, s := range r.scores {
		if s.EntityID != entityID || s.Ts.Before(since) {
			continue
		}
		if peak == nil || s.Heat > peak.Heat || (s.Heat == peak.Heat && s.Ts.After(peak.Ts)) {
			peak = s
		}
	}
	if peak == nil {
		return nil, nil
	}
	ts := peak.Ts
	return &ts, nil
}

func (r *memScoreRepo) ListByEntity(_ context.Context, entityID uint64, from time.Time) ([]*model.Score, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Score
	for _, s := range r.scores {
		if s.EntityID == entityID && !s.Ts.Before(from) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	return out, nil
}

type memTrendRepo struct {
	mu      sync.Mutex
	states  map[uint64]*model.TrendState
	alerts  []*model.Alert
	saveErr error
}

func newMemTrendRepo() *memTrendRepo {
	return &memTrendRepo{states: make(map[uint64]*model.TrendState)}
}

func (r *memTrendRepo) GetState(_ context.Context, entityID uint64) (*model.TrendState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[entityID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (r *memTrendRepo) SaveTransition(_ context.Context, state *model.TrendState, alert *model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	if alert != nil {
		ca := *alert
		r.alerts = append(r.alerts, &ca)
	}
	cp := *state
	r.states[state.EntityID] = &cp
	return nil
}

func (r *memTrendRepo) ListAlerts(_ context.Context, limit int) ([]*model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Alert, len(r.alerts))
	copy(out, r.alerts)
	sort.Slice(out, func(i, j int) bool { return out[i].Ts.After(out[j].Ts) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memHealthRepo struct {
	mu     sync.Mutex
	rows   map[string]*model.SourceHealth
	audits []*model.AuditLog
}

func newMemHealthRepo() *memHealthRepo {
	return &memHealthRepo{rows: make(map[string]*model.SourceHealth)}
}

func (r *memHealthRepo) Get(_ context.Context, source string) (*model.SourceHealth, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.rows[source]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (r *memHealthRepo) Upsert(_ context.Context, health *model.SourceHealth) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *health
	r.rows[health.Source] = &cp
	return nil
}

func (r *memHealthRepo) List(_ context.Context) ([]*model.SourceHealth, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.SourceHealth
	for _, h := range r.rows {
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

func (r *memHealthRepo) AppendAudit(_ context.Context, entry *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.audits = append(r.audits, &cp)
	return nil
}

// fakeCatalog 固定的源类型目录
type fakeCatalog struct {
	types map[string]model.SourceType
	total int
}

func (c *fakeCatalog) TypeOf(source string) (model.SourceType, bool) {
	t, ok := c.types[source]
	return t, ok
}

func (c *fakeCatalog) DistinctEnabledTypes() int { return c.total }

func (c *fakeCatalog) SourcesOfType(t model.SourceType) []string {
	var out []string
	for name, typ := range c.types {
		if typ == t {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// fakeSink 记录推送的告警
type fakeSink struct {
	mu      sync.Mutex
	emitted []*model.Alert
	emitErr error
}

func (s *fakeSink) Emit(_ context.Context, alert *model.Alert, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emitErr != nil {
		return s.emitErr
	}
	s.emitted = append(s.emitted, alert)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.emitted)
}
