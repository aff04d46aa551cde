package service

import (
	"context"
	"encoding/json"
	"testing"

	"TrendRadar/internal/config"
	"TrendRadar/internal/model"
)

func testResolverConfig() *config.ResolverConfig {
	return &config.ResolverConfig{
		SimilarityThreshold: 0.88,
		AmbiguityBand:       0.02,
	}
}

func newTestResolver(t *testing.T, names ...string) (*ResolverService, *memEntityRepo) {
	t.Helper()
	repo := newMemEntityRepo(nil)
	for _, name := range names {
		if err := repo.Create(context.Background(), &model.Entity{Name: name, IsActive: true}); err != nil {
			t.Fatal(err)
		}
	}
	svc := NewResolverService(testResolverConfig(), repo, testLogger())
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	return svc, repo
}

func TestCanonicalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{in: "  Taylor Swift ", want: "taylor swift"},
		{in: "Beyoncé!", want: "beyonce"},
		{in: "The  Last   of Us", want: "the last of us"},
		{in: "Pedro Pascal's", want: "pedro pascal s"},
		{in: "???", want: ""},
	}
	for _, tt := range tests {
		if got := Canonicalize(tt.in); got != tt.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveExactMatch(t *testing.T) {
	t.Parallel()
	svc, _ := newTestResolver(t, "Taylor Swift")

	id, ok := svc.Resolve(context.Background(), "taylor  SWIFT")
	if !ok || id != 1 {
		t.Fatalf("规范化后应精确命中，实际 id=%d ok=%v", id, ok)
	}
}

func TestResolveAliasFromIndex(t *testing.T) {
	t.Parallel()
	repo := newMemEntityRepo(nil)
	aliases, _ := json.Marshal([]string{"Bey"})
	repo.Create(context.Background(), &model.Entity{Name: "Beyoncé", Aliases: aliases, IsActive: true})
	svc := NewResolverService(testResolverConfig(), repo, testLogger())
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	if id, ok := svc.Resolve(context.Background(), "bey"); !ok || id != 1 {
		t.Fatalf("别名应精确命中，实际 id=%d ok=%v", id, ok)
	}
}

func TestResolveFuzzyAppendsAlias(t *testing.T) {
	t.Parallel()
	svc, repo := newTestResolver(t, "Taylor Swift")
	ctx := context.Background()

	// 编辑距离1，相似度≈0.92，模糊命中并追加别名
	id, ok := svc.Resolve(ctx, "Taylor Swiftt")
	if !ok || id != 1 {
		t.Fatalf("模糊匹配应命中，实际 id=%d ok=%v", id, ok)
	}

	e, _ := repo.GetByID(ctx, 1)
	var aliases []string
	json.Unmarshal(e.Aliases, &aliases)
	if len(aliases) != 1 || aliases[0] != "Taylor Swiftt" {
		t.Fatalf("模糊命中后应追加别名，实际%v", aliases)
	}

	// 同名再次归一走精确索引
	if id, ok := svc.Resolve(ctx, "taylor swiftt"); !ok || id != 1 {
		t.Fatalf("追加别名后应精确命中，实际 id=%d ok=%v", id, ok)
	}
}

func TestResolveBelowThreshold(t *testing.T) {
	t.Parallel()
	svc, _ := newTestResolver(t, "Taylor Swift")

	if _, ok := svc.Resolve(context.Background(), "Taylor Quick"); ok {
		t.Fatal("相似度低于门限不应命中")
	}
}

func TestResolveAmbiguityBand(t *testing.T) {
	t.Parallel()
	svc, repo := newTestResolver(t, "Ariana Grande", "Ariana Grandes")
	ctx := context.Background()

	// 与两个不同实体的相似度都过线且相差不到0.02：判定歧义
	if _, ok := svc.Resolve(ctx, "Ariana Grander"); ok {
		t.Fatal("歧义名称不应归一到任何实体")
	}
	for id := uint64(1); id <= 2; id++ {
		e, _ := repo.GetByID(ctx, id)
		if len(e.Aliases) > 0 {
			t.Fatalf("歧义名称不应追加别名，实体%d: %s", id, e.Aliases)
		}
	}
}

func TestResolveAddEntity(t *testing.T) {
	t.Parallel()
	svc, repo := newTestResolver(t)
	ctx := context.Background()

	e := &model.Entity{Name: "New Show", IsActive: true}
	if err := repo.Create(ctx, e); err != nil {
		t.Fatal(err)
	}
	svc.AddEntity(e)

	if id, ok := svc.Resolve(ctx, "new show"); !ok || id != e.ID {
		t.Fatalf("AddEntity后应立即可归一，实际 id=%d ok=%v", id, ok)
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		want float64
	}{
		{a: "abc", b: "abc", want: 1.0},
		{a: "abc", b: "abd", want: 1.0 - 1.0/3.0},
		{a: "", b: "abc", want: 0},
	}
	for _, tt := range tests {
		got := similarity(tt.a, tt.b)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("similarity(%q, %q) = %.6f, want %.6f", tt.a, tt.b, got, tt.want)
		}
	}
}
