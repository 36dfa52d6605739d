package query

import (
	"context"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/lazypower/lore/internal/store"
)

var alphabet = []rune("abcXYZ019_./:-\"'()* 数据清洗流程管理。")

// words mixes FTS5 operators and syntax into otherwise ordinary text.
var words = []string{"AND", "OR", "NOT", "NEAR", "NEAR(", "and", "merge", "csv", "^col", "col:", "{x}", "\"q\"", "数据清洗"}

func genText() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		runes := rapid.SliceOfN(rapid.SampledFrom(alphabet), 0, 60).Draw(t, "runes")
		return string(runes)
	})
}

func genQueryText() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		parts := rapid.SliceOfN(rapid.OneOf(rapid.SampledFrom(words), genText()), 0, 8).Draw(t, "parts")
		return strings.Join(parts, " ")
	})
}

// TestPropertyExtractTermsDeterministic verifies repeated extraction yields
// the same ordered output and never exceeds the limit.
func TestPropertyExtractTermsDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := genText().Draw(rt, "text")
		limit := rapid.IntRange(0, 12).Draw(rt, "limit")

		first := ExtractTerms(text, limit)
		second := ExtractTerms(text, limit)

		if len(first) > limit {
			rt.Fatalf("got %d terms, limit %d", len(first), limit)
		}
		if len(first) != len(second) {
			rt.Fatalf("non-deterministic length: %d vs %d", len(first), len(second))
		}
		seen := make(map[string]bool)
		for i := range first {
			if first[i] != second[i] {
				rt.Fatalf("term[%d] = %q then %q", i, first[i], second[i])
			}
			if seen[first[i]] {
				rt.Fatalf("duplicate term %q", first[i])
			}
			seen[first[i]] = true
		}
	})
}

// TestPropertySafeQueryCharset verifies every emitted term only carries
// characters FTS5 accepts as a bareword, and that SQLite parses the whole
// expression as a MATCH predicate.
func TestPropertySafeQueryCharset(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()
	seed := &store.Entity{Kind: store.KindSkill, Name: "merge csv and 数据清洗 notes"}
	if err := db.CreateEntity(context.Background(), seed); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	rapid.Check(t, func(rt *rapid.T) {
		text := genQueryText().Draw(rt, "text")
		q := BuildSafeQuery(text, 8)
		if q == "" {
			return
		}
		for _, part := range strings.Split(q, " OR ") {
			if !strings.HasSuffix(part, "*") {
				rt.Fatalf("term %q missing wildcard", part)
			}
			body := strings.TrimSuffix(part, "*")
			if body == "" || Sanitize(body) != body || strings.ToLower(body) != body {
				rt.Fatalf("unsafe term %q in %q", part, q)
			}
		}
		if _, _, err := db.SearchFTS(context.Background(), store.KindSkill, q, store.Filter{}, 5); err != nil {
			rt.Fatalf("MATCH %q (from %q): %v", q, text, err)
		}
	})
}
