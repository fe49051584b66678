package memory

import (
	"errors"
	"fmt"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies the indexes created by the initial migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{
		"idx_research_query", "idx_research_conversation",
		"idx_analyses_conversation", "idx_articles_conversation",
		"idx_articles_quality", "idx_learnings_agent", "idx_cache_last_accessed",
	}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestConversationLifecycle(t *testing.T) {
	s := openTestStore(t)

	id, err := s.StartConversation("What is Go?", "", "some data")
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive conversation id, got %d", id)
	}

	if err := s.SetTaskType(id, "full_research"); err != nil {
		t.Fatalf("SetTaskType: %v", err)
	}

	if err := s.EndConversation(id, []string{"research", "writer"}, true); err != nil {
		t.Fatalf("EndConversation: %v", err)
	}

	c, err := s.GetConversation(id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if c.UserQuery != "What is Go?" || c.TaskType != "full_research" || c.UserProvidedData != "some data" {
		t.Errorf("conversation mismatch: %+v", c)
	}
	if !c.Success {
		t.Error("expected success = true")
	}
	if len(c.AgentsUsed) != 2 || c.AgentsUsed[0] != "research" || c.AgentsUsed[1] != "writer" {
		t.Errorf("agents_used mismatch: %v", c.AgentsUsed)
	}
}

// TestEndConversationIdempotent verifies that re-finalizing a conversation is
// a last-write-wins no-op in effect.
func TestEndConversationIdempotent(t *testing.T) {
	s := openTestStore(t)

	id, err := s.StartConversation("q", "", "")
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	agents := []string{"research"}
	if err := s.EndConversation(id, agents, true); err != nil {
		t.Fatalf("first EndConversation: %v", err)
	}
	if err := s.EndConversation(id, agents, true); err != nil {
		t.Fatalf("second EndConversation: %v", err)
	}

	c, err := s.GetConversation(id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(c.AgentsUsed) != 1 || c.AgentsUsed[0] != "research" || !c.Success {
		t.Errorf("unexpected final state: %+v", c)
	}
}

func TestEndConversationNotFound(t *testing.T) {
	s := openTestStore(t)

	err := s.EndConversation(9999, []string{"writer"}, false)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetConversation(42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSimilarResearchKeywordRecall(t *testing.T) {
	s := openTestStore(t)

	id, err := s.StartConversation("battery research", "", "")
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	queries := []string{
		"solid state battery advances",
		"battery recycling methods",
		"quantum computing outlook",
	}
	for _, q := range queries {
		if err := s.SaveResearch(id, q, "results for "+q, nil); err != nil {
			t.Fatalf("SaveResearch(%q): %v", q, err)
		}
	}

	hits, err := s.GetSimilarResearch("battery technology", 5)
	if err != nil {
		t.Fatalf("GetSimilarResearch: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 battery hits, got %d: %+v", len(hits), hits)
	}
	for _, h := range hits {
		if h.Query == "quantum computing outlook" {
			t.Errorf("unrelated research matched: %+v", h)
		}
	}
}

// TestSimilarResearchLimitAndDedupe verifies that results stop at the limit
// and that the same record reached via multiple keywords appears once.
func TestSimilarResearchLimitAndDedupe(t *testing.T) {
	s := openTestStore(t)

	id, err := s.StartConversation("q", "", "")
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	// Matches both "climate" and "change" probes.
	if err := s.SaveResearch(id, "climate change effects", "r1", nil); err != nil {
		t.Fatalf("SaveResearch: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := s.SaveResearch(id, fmt.Sprintf("climate policy %d", i), "r", nil); err != nil {
			t.Fatalf("SaveResearch: %v", err)
		}
	}

	hits, err := s.GetSimilarResearch("climate change", 3)
	if err != nil {
		t.Fatalf("GetSimilarResearch: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected limit of 3 hits, got %d", len(hits))
	}

	// A wider limit walks both probes; the record matching both keywords
	// must still appear once.
	hits, err = s.GetSimilarResearch("climate change", 10)
	if err != nil {
		t.Fatalf("GetSimilarResearch: %v", err)
	}
	if len(hits) != 5 {
		t.Fatalf("expected 5 distinct hits, got %d", len(hits))
	}
	seen := make(map[string]int)
	for _, h := range hits {
		seen[h.Query]++
	}
	if seen["climate change effects"] != 1 {
		t.Errorf("record matching both probes should appear exactly once, got %d", seen["climate change effects"])
	}
}

// TestSimilarResearchShortTokenFallback: a query with no token longer than
// 2 characters still probes with its raw tokens.
func TestSimilarResearchShortTokenFallback(t *testing.T) {
	s := openTestStore(t)

	id, err := s.StartConversation("q", "", "")
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if err := s.SaveResearch(id, "go ai ml overview", "r", nil); err != nil {
		t.Fatalf("SaveResearch: %v", err)
	}

	hits, err := s.GetSimilarResearch("go ai", 5)
	if err != nil {
		t.Fatalf("GetSimilarResearch: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected fallback probe to find 1 hit, got %d", len(hits))
	}
}

func TestSimilarResearchEmptyQuery(t *testing.T) {
	s := openTestStore(t)

	hits, err := s.GetSimilarResearch("   ", 5)
	if err != nil {
		t.Fatalf("GetSimilarResearch: %v", err)
	}
	if hits != nil {
		t.Errorf("expected no hits for blank query, got %+v", hits)
	}
}

func TestPastAnalysesTopicMatch(t *testing.T) {
	s := openTestStore(t)

	id1, _ := s.StartConversation("Impacts of Climate Change", "", "")
	id2, _ := s.StartConversation("quantum hardware", "", "")

	if err := s.SaveAnalysis(id1, "climate analysis", []string{"insight one", "insight two"}); err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}
	if err := s.SaveAnalysis(id2, "quantum analysis", nil); err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}

	hits, err := s.GetPastAnalyses("climate", 5)
	if err != nil {
		t.Fatalf("GetPastAnalyses: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].OriginalQuery != "Impacts of Climate Change" {
		t.Errorf("wrong originating query: %q", hits[0].OriginalQuery)
	}
	if len(hits[0].KeyInsights) != 2 {
		t.Errorf("key insights not round-tripped: %v", hits[0].KeyInsights)
	}
}

func TestBestArticlesOrdering(t *testing.T) {
	s := openTestStore(t)

	id, _ := s.StartConversation("battery storage", "", "")

	if err := s.SaveArticle(id, "short piece", 4.5); err != nil {
		t.Fatalf("SaveArticle: %v", err)
	}
	if err := s.SaveArticle(id, "the better piece with more words", 8.2); err != nil {
		t.Fatalf("SaveArticle: %v", err)
	}

	hits, err := s.GetBestArticles("battery", 5)
	if err != nil {
		t.Fatalf("GetBestArticles: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].QualityScore != 8.2 {
		t.Errorf("expected highest quality first, got %.1f", hits[0].QualityScore)
	}
	if hits[0].WordCount != 6 {
		t.Errorf("word count not computed at save: got %d", hits[0].WordCount)
	}
}

// TestBestArticlesEmptyTopic: omitting the topic returns articles from all
// conversations.
func TestBestArticlesEmptyTopic(t *testing.T) {
	s := openTestStore(t)

	id1, _ := s.StartConversation("alpha", "", "")
	id2, _ := s.StartConversation("omega", "", "")
	s.SaveArticle(id1, "a1", 3)
	s.SaveArticle(id2, "a2", 7)

	hits, err := s.GetBestArticles("", 10)
	if err != nil {
		t.Fatalf("GetBestArticles: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected all articles with empty topic, got %d", len(hits))
	}
}

func TestLearningsFilters(t *testing.T) {
	s := openTestStore(t)

	s.SaveLearning("research", "found good sources", "ctx", true)
	s.SaveLearning("research", "search tool timed out", "ctx", false)
	s.SaveLearning("writer", "long article well received", "", true)

	all, err := s.GetLearnings("", false, 10)
	if err != nil {
		t.Fatalf("GetLearnings: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 learnings, got %d", len(all))
	}

	research, err := s.GetLearnings("research", false, 10)
	if err != nil {
		t.Fatalf("GetLearnings(research): %v", err)
	}
	if len(research) != 2 {
		t.Fatalf("expected 2 research learnings, got %d", len(research))
	}

	successes, err := s.GetLearnings("research", true, 10)
	if err != nil {
		t.Fatalf("GetLearnings(research, successOnly): %v", err)
	}
	if len(successes) != 1 || !successes[0].SuccessPattern {
		t.Fatalf("expected 1 success learning, got %+v", successes)
	}
}

func TestCacheRoundTripAndHitCount(t *testing.T) {
	s := openTestStore(t)

	if _, hit, err := s.GetCachedResult("climate change"); err != nil || hit {
		t.Fatalf("expected cold miss, got hit=%v err=%v", hit, err)
	}

	if err := s.CacheResult("climate change", "the article"); err != nil {
		t.Fatalf("CacheResult: %v", err)
	}

	result, hit, err := s.GetCachedResult("climate change")
	if err != nil {
		t.Fatalf("GetCachedResult: %v", err)
	}
	if !hit || result != "the article" {
		t.Fatalf("expected hit with stored result, got hit=%v result=%q", hit, result)
	}

	// Two reads happened on a miss+hit; only the hit increments.
	var hits int
	if err := s.db.QueryRow("SELECT hit_count FROM query_cache").Scan(&hits); err != nil {
		t.Fatalf("reading hit_count: %v", err)
	}
	if hits != 1 {
		t.Errorf("expected hit_count 1, got %d", hits)
	}

	if _, _, err := s.GetCachedResult("climate change"); err != nil {
		t.Fatalf("second GetCachedResult: %v", err)
	}
	if err := s.db.QueryRow("SELECT hit_count FROM query_cache").Scan(&hits); err != nil {
		t.Fatalf("reading hit_count: %v", err)
	}
	if hits != 2 {
		t.Errorf("expected hit_count 2, got %d", hits)
	}
}

// TestCacheNormalization: lookups are case-insensitive and ignore
// surrounding whitespace.
func TestCacheNormalization(t *testing.T) {
	s := openTestStore(t)

	if err := s.CacheResult("Climate Change", "cached"); err != nil {
		t.Fatalf("CacheResult: %v", err)
	}

	for _, q := range []string{"climate change", "  CLIMATE CHANGE  ", "Climate Change"} {
		result, hit, err := s.GetCachedResult(q)
		if err != nil {
			t.Fatalf("GetCachedResult(%q): %v", q, err)
		}
		if !hit || result != "cached" {
			t.Errorf("expected normalized hit for %q, got hit=%v", q, hit)
		}
	}

	if _, hit, _ := s.GetCachedResult("climate changes"); hit {
		t.Error("different query should miss")
	}
}

// TestCacheUpsertKeepsHitCount: re-caching the same query replaces the
// result without resetting hit_count.
func TestCacheUpsertKeepsHitCount(t *testing.T) {
	s := openTestStore(t)

	s.CacheResult("q", "v1")
	s.GetCachedResult("q")
	s.GetCachedResult("q")

	if err := s.CacheResult("q", "v2"); err != nil {
		t.Fatalf("CacheResult upsert: %v", err)
	}

	result, hit, err := s.GetCachedResult("q")
	if err != nil || !hit {
		t.Fatalf("expected hit after upsert, err=%v", err)
	}
	if result != "v2" {
		t.Errorf("expected updated result v2, got %q", result)
	}

	var hits int
	if err := s.db.QueryRow("SELECT hit_count FROM query_cache").Scan(&hits); err != nil {
		t.Fatalf("reading hit_count: %v", err)
	}
	if hits != 3 {
		t.Errorf("expected hit_count 3 (preserved across upsert), got %d", hits)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM query_cache").Scan(&count); err != nil {
		t.Fatalf("counting cache rows: %v", err)
	}
	if count != 1 {
		t.Errorf("expected single cache row after upsert, got %d", count)
	}
}

func TestClearOldCache(t *testing.T) {
	s := openTestStore(t)

	s.CacheResult("old query", "old")
	s.CacheResult("fresh query", "fresh")

	if _, err := s.db.Exec(
		`UPDATE query_cache SET last_accessed = '2020-01-01 00:00:00' WHERE query = 'old query'`,
	); err != nil {
		t.Fatalf("backdating entry: %v", err)
	}

	deleted, err := s.ClearOldCache(30)
	if err != nil {
		t.Fatalf("ClearOldCache: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted entry, got %d", deleted)
	}

	if _, hit, _ := s.GetCachedResult("old query"); hit {
		t.Error("backdated entry should be gone")
	}
	if _, hit, _ := s.GetCachedResult("fresh query"); !hit {
		t.Error("fresh entry should survive")
	}
}

// TestClearOldCacheZeroDays: the cutoff is strict, deleting anything
// accessed before the sweep.
func TestClearOldCacheZeroDays(t *testing.T) {
	s := openTestStore(t)

	s.CacheResult("q", "v")
	if _, err := s.db.Exec(`UPDATE query_cache SET last_accessed = '2020-01-01 00:00:00'`); err != nil {
		t.Fatalf("backdating entry: %v", err)
	}

	deleted, err := s.ClearOldCache(0)
	if err != nil {
		t.Fatalf("ClearOldCache(0): %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected backdated entry deleted with zero retention, got %d", deleted)
	}
}

func TestStatistics(t *testing.T) {
	s := openTestStore(t)

	id1, _ := s.StartConversation("q1", "", "")
	id2, _ := s.StartConversation("q2", "", "")
	s.SetTaskType(id1, "full_research")
	s.SetTaskType(id2, "write_only")
	s.EndConversation(id1, []string{"research", "analyzer", "writer"}, true)
	s.EndConversation(id2, []string{"writer"}, false)

	s.SaveResearch(id1, "q1", "results", nil)
	s.SaveAnalysis(id1, "analysis", nil)
	s.SaveArticle(id1, "article one", 6.0)
	s.SaveArticle(id2, "article two", 8.0)

	s.CacheResult("q1", "article one")
	s.GetCachedResult("q1")

	stats, err := s.Statistics()
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}

	if stats.TotalConversations != 2 || stats.SuccessfulConversations != 1 {
		t.Errorf("conversation counts wrong: %+v", stats)
	}
	if stats.TotalResearch != 1 || stats.TotalAnalyses != 1 || stats.TotalArticles != 2 {
		t.Errorf("record counts wrong: %+v", stats)
	}
	if stats.AverageArticleQuality != 7.0 {
		t.Errorf("expected avg quality 7.0, got %v", stats.AverageArticleQuality)
	}
	if stats.CachedQueries != 1 || stats.TotalCacheHits != 1 {
		t.Errorf("cache stats wrong: %+v", stats)
	}
	if len(stats.TopTaskTypes) != 2 {
		t.Errorf("expected 2 task types, got %+v", stats.TopTaskTypes)
	}
}
