package gdelt

import (
	"testing"
)

func TestDetectColumns(t *testing.T) {
	t.Parallel()

	// 人名列为分号分隔的姓名串，语调列以逗号分隔数值开头
	rows := [][]string{
		{"20260310120000", "article-1", "Pedro Pascal;Bella Ramsey", "-2.5,3.1,5.6"},
		{"20260310120000", "article-2", "Taylor Swift", "1.2,0.4,0.8"},
		{"20260310120000", "article-3", "Pedro Pascal", "0.0,1.0,1.0"},
	}
	nameCol, toneCol := detectColumns(rows)
	if nameCol != 2 {
		t.Fatalf("人名列 = %d, want 2", nameCol)
	}
	if toneCol != 3 {
		t.Fatalf("语调列 = %d, want 3", toneCol)
	}
}

func TestDetectColumnsNoNames(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"20260310120000", "http://example.com", "12345"},
		{"20260310120000", "http://example.com", "67890"},
	}
	nameCol, _ := detectColumns(rows)
	if nameCol != -1 {
		t.Fatalf("无人名列时应返回-1，实际%d", nameCol)
	}
}
