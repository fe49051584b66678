package memory

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout matches SQLite's CURRENT_TIMESTAMP default, which keeps
// lexicographic comparison against stored values valid.
const timeLayout = "2006-01-02 15:04:05"

const maxKeywordProbes = 5

var wordPattern = regexp.MustCompile(`\w+`)

// Store wraps a SQLite database holding conversations, stage outputs,
// learnings, and the query cache. Every method commits before returning.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "scribe.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Conversations ---

// StartConversation records a new conversation and returns its id.
// taskType and userData may be empty and are stored as NULL.
func (s *Store) StartConversation(userQuery, taskType, userData string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO conversations (user_query, task_type, user_provided_data)
		VALUES (?, ?, ?)`,
		userQuery, nullable(taskType), nullable(userData),
	)
	if err != nil {
		return 0, fmt.Errorf("starting conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading conversation id: %w", err)
	}
	return id, nil
}

// SetTaskType records the resolved task type on an open conversation.
func (s *Store) SetTaskType(id int64, taskType string) error {
	res, err := s.db.Exec(`UPDATE conversations SET task_type = ? WHERE id = ?`, taskType, id)
	if err != nil {
		return fmt.Errorf("setting task type for conversation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// EndConversation marks a conversation complete with the stages that actually
// ran. Last write wins; calling it twice with the same arguments is a no-op
// in effect.
func (s *Store) EndConversation(id int64, agentsUsed []string, success bool) error {
	agents, err := json.Marshal(agentsUsed)
	if err != nil {
		return fmt.Errorf("marshaling agents_used: %w", err)
	}
	res, err := s.db.Exec(`UPDATE conversations SET agents_used = ?, success = ? WHERE id = ?`,
		string(agents), boolToInt(success), id)
	if err != nil {
		return fmt.Errorf("ending conversation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConversation returns a single conversation by id.
func (s *Store) GetConversation(id int64) (Conversation, error) {
	var c Conversation
	var taskType, userData, agentsUsed sql.NullString
	var success int
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_query, task_type, user_provided_data, agents_used, success, created_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserQuery, &taskType, &userData, &agentsUsed, &success, &createdAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	c.TaskType = taskType.String
	c.UserProvidedData = userData.String
	c.Success = success != 0
	if agentsUsed.Valid && agentsUsed.String != "" {
		if err := json.Unmarshal([]byte(agentsUsed.String), &c.AgentsUsed); err != nil {
			return Conversation{}, fmt.Errorf("parsing agents_used: %w", err)
		}
	}
	if c.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// --- Research ---

// SaveResearch appends a research record. The conversation id is not
// validated; a foreign key violation surfaces as a storage error.
func (s *Store) SaveResearch(convID int64, query, results string, sources []string) error {
	var sourcesJSON any
	if len(sources) > 0 {
		b, err := json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("marshaling sources: %w", err)
		}
		sourcesJSON = string(b)
	}
	_, err := s.db.Exec(`
		INSERT INTO research_results (conversation_id, query, results, sources)
		VALUES (?, ?, ?, ?)`,
		convID, query, results, sourcesJSON,
	)
	if err != nil {
		return fmt.Errorf("saving research: %w", err)
	}
	return nil
}

// GetSimilarResearch finds past research by keyword containment. The query is
// tokenized into word characters; tokens longer than 2 characters become
// probes (capped at 5), falling back to the first 3 raw tokens when none
// qualify. Results merge across probes newest first, deduplicated by
// (query, timestamp), stopping once limit is reached. Approximate recall,
// not ranked relevance.
func (s *Store) GetSimilarResearch(query string, limit int) ([]ResearchHit, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}

	tokens := wordPattern.FindAllString(strings.ToLower(query), -1)
	var keywords []string
	for _, t := range tokens {
		if len(t) > 2 {
			keywords = append(keywords, t)
		}
		if len(keywords) == maxKeywordProbes {
			break
		}
	}
	if len(keywords) == 0 {
		if len(tokens) > 3 {
			tokens = tokens[:3]
		}
		keywords = tokens
	}

	var hits []ResearchHit
	seen := make(map[string]struct{})

	for _, kw := range keywords {
		rows, err := s.db.Query(`
			SELECT query, results, created_at
			FROM research_results
			WHERE LOWER(query) LIKE ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?`, "%"+kw+"%", limit,
		)
		if err != nil {
			return nil, fmt.Errorf("querying research for %q: %w", kw, err)
		}

		for rows.Next() {
			var q, results, createdAt string
			if err := rows.Scan(&q, &results, &createdAt); err != nil {
				rows.Close()
				return nil, err
			}
			key := q + "\x00" + createdAt
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			t, err := parseTimestamp(createdAt)
			if err != nil {
				rows.Close()
				return nil, err
			}
			hits = append(hits, ResearchHit{Query: q, Results: results, CreatedAt: t})
			if len(hits) >= limit {
				break
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if len(hits) >= limit {
			break
		}
	}

	return hits, nil
}

// --- Analyses ---

// SaveAnalysis appends an analysis record.
func (s *Store) SaveAnalysis(convID int64, analysis string, keyInsights []string) error {
	var insightsJSON any
	if len(keyInsights) > 0 {
		b, err := json.Marshal(keyInsights)
		if err != nil {
			return fmt.Errorf("marshaling key_insights: %w", err)
		}
		insightsJSON = string(b)
	}
	_, err := s.db.Exec(`
		INSERT INTO analyses (conversation_id, analysis, key_insights)
		VALUES (?, ?, ?)`,
		convID, analysis, insightsJSON,
	)
	if err != nil {
		return fmt.Errorf("saving analysis: %w", err)
	}
	return nil
}

// GetPastAnalyses returns analyses whose originating query contains topic,
// newest first.
func (s *Store) GetPastAnalyses(topic string, limit int) ([]AnalysisHit, error) {
	rows, err := s.db.Query(`
		SELECT a.analysis, a.key_insights, a.created_at, c.user_query
		FROM analyses a
		JOIN conversations c ON a.conversation_id = c.id
		WHERE LOWER(c.user_query) LIKE ?
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT ?`, "%"+strings.ToLower(topic)+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying past analyses: %w", err)
	}
	defer rows.Close()

	var hits []AnalysisHit
	for rows.Next() {
		var h AnalysisHit
		var insights sql.NullString
		var createdAt string
		if err := rows.Scan(&h.Analysis, &insights, &createdAt, &h.OriginalQuery); err != nil {
			return nil, err
		}
		if insights.Valid && insights.String != "" {
			if err := json.Unmarshal([]byte(insights.String), &h.KeyInsights); err != nil {
				return nil, fmt.Errorf("parsing key_insights: %w", err)
			}
		}
		if h.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// --- Articles ---

// SaveArticle appends an article record. Word count is computed here.
func (s *Store) SaveArticle(convID int64, article string, qualityScore float64) error {
	wordCount := len(strings.Fields(article))
	_, err := s.db.Exec(`
		INSERT INTO articles (conversation_id, article, quality_score, word_count)
		VALUES (?, ?, ?, ?)`,
		convID, article, qualityScore, wordCount,
	)
	if err != nil {
		return fmt.Errorf("saving article: %w", err)
	}
	return nil
}

// GetBestArticles returns the highest quality articles, optionally filtered
// by topic containment in the originating query. Empty topic means all
// articles. Ordered by quality descending, then recency.
func (s *Store) GetBestArticles(topic string, limit int) ([]ArticleHit, error) {
	var rows *sql.Rows
	var err error
	if topic != "" {
		rows, err = s.db.Query(`
			SELECT a.article, a.quality_score, a.word_count, a.created_at, c.user_query
			FROM articles a
			JOIN conversations c ON a.conversation_id = c.id
			WHERE LOWER(c.user_query) LIKE ?
			ORDER BY a.quality_score DESC, a.created_at DESC, a.id DESC
			LIMIT ?`, "%"+strings.ToLower(topic)+"%", limit,
		)
	} else {
		rows, err = s.db.Query(`
			SELECT a.article, a.quality_score, a.word_count, a.created_at, c.user_query
			FROM articles a
			JOIN conversations c ON a.conversation_id = c.id
			ORDER BY a.quality_score DESC, a.created_at DESC, a.id DESC
			LIMIT ?`, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("querying best articles: %w", err)
	}
	defer rows.Close()

	var hits []ArticleHit
	for rows.Next() {
		var h ArticleHit
		var quality sql.NullFloat64
		var wordCount sql.NullInt64
		var createdAt string
		if err := rows.Scan(&h.Article, &quality, &wordCount, &createdAt, &h.OriginalQuery); err != nil {
			return nil, err
		}
		h.QualityScore = quality.Float64
		h.WordCount = int(wordCount.Int64)
		if h.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// --- Learnings ---

// SaveLearning appends a learning note for the named agent.
func (s *Store) SaveLearning(agentName, lesson, context string, successPattern bool) error {
	_, err := s.db.Exec(`
		INSERT INTO learnings (agent_name, lesson, context, success_pattern)
		VALUES (?, ?, ?, ?)`,
		agentName, lesson, nullable(context), boolToInt(successPattern),
	)
	if err != nil {
		return fmt.Errorf("saving learning: %w", err)
	}
	return nil
}

// GetLearnings returns learnings newest first, filtered by agent name when
// non-empty and by success_pattern when successOnly is set.
func (s *Store) GetLearnings(agentName string, successOnly bool, limit int) ([]Learning, error) {
	query := "SELECT agent_name, lesson, context, success_pattern, created_at FROM learnings"
	var conds []string
	var args []any
	if agentName != "" {
		conds = append(conds, "agent_name = ?")
		args = append(args, agentName)
	}
	if successOnly {
		conds = append(conds, "success_pattern = 1")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying learnings: %w", err)
	}
	defer rows.Close()

	var learnings []Learning
	for rows.Next() {
		var l Learning
		var context sql.NullString
		var success int
		var createdAt string
		if err := rows.Scan(&l.AgentName, &l.Lesson, &context, &success, &createdAt); err != nil {
			return nil, err
		}
		l.Context = context.String
		l.SuccessPattern = success != 0
		if l.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		learnings = append(learnings, l)
	}
	return learnings, rows.Err()
}

// --- Query cache ---

// fingerprint derives the cache key: sha256 over the case-folded,
// whitespace-trimmed query.
func fingerprint(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:])
}

// GetCachedResult looks up a cached result for the query. A hit increments
// hit_count and refreshes last_accessed as a side effect of the read.
func (s *Store) GetCachedResult(query string) (string, bool, error) {
	hash := fingerprint(query)

	tx, err := s.db.Begin()
	if err != nil {
		return "", false, fmt.Errorf("beginning cache read: %w", err)
	}
	defer tx.Rollback()

	var result string
	err = tx.QueryRow(`SELECT result FROM query_cache WHERE query_hash = ?`, hash).Scan(&result)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading cache: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE query_cache
		SET hit_count = hit_count + 1, last_accessed = CURRENT_TIMESTAMP
		WHERE query_hash = ?`, hash,
	); err != nil {
		return "", false, fmt.Errorf("recording cache hit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("committing cache read: %w", err)
	}
	return result, true, nil
}

// CacheResult upserts a cached result keyed by the query fingerprint.
// Updating an existing entry replaces result and last_accessed but leaves
// hit_count alone; only the read path increments it.
func (s *Store) CacheResult(query, result string) error {
	_, err := s.db.Exec(`
		INSERT INTO query_cache (query_hash, query, result, hit_count, last_accessed, created_at)
		VALUES (?, ?, ?, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(query_hash) DO UPDATE SET
			result = excluded.result,
			last_accessed = CURRENT_TIMESTAMP`,
		fingerprint(query), query, result,
	)
	if err != nil {
		return fmt.Errorf("caching result: %w", err)
	}
	return nil
}

// ClearOldCache deletes cache entries whose last_accessed is strictly older
// than now minus the given number of days, returning the deleted count.
func (s *Store) ClearOldCache(days int) (int64, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour).Format(timeLayout)
	res, err := s.db.Exec(`DELETE FROM query_cache WHERE last_accessed < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clearing old cache: %w", err)
	}
	return res.RowsAffected()
}

// --- Statistics ---

// Statistics aggregates counts and ratios across all tables.
func (s *Store) Statistics() (Stats, error) {
	var stats Stats

	counts := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM conversations", &stats.TotalConversations},
		{"SELECT COUNT(*) FROM conversations WHERE success = 1", &stats.SuccessfulConversations},
		{"SELECT COUNT(*) FROM research_results", &stats.TotalResearch},
		{"SELECT COUNT(*) FROM analyses", &stats.TotalAnalyses},
		{"SELECT COUNT(*) FROM articles", &stats.TotalArticles},
		{"SELECT COUNT(*) FROM query_cache", &stats.CachedQueries},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("counting: %w", err)
		}
	}

	var avgQuality sql.NullFloat64
	if err := s.db.QueryRow("SELECT AVG(quality_score) FROM articles WHERE quality_score IS NOT NULL").Scan(&avgQuality); err != nil {
		return Stats{}, fmt.Errorf("averaging article quality: %w", err)
	}
	if avgQuality.Valid {
		stats.AverageArticleQuality = math.Round(avgQuality.Float64*100) / 100
	}

	var totalHits sql.NullInt64
	if err := s.db.QueryRow("SELECT SUM(hit_count) FROM query_cache").Scan(&totalHits); err != nil {
		return Stats{}, fmt.Errorf("summing cache hits: %w", err)
	}
	stats.TotalCacheHits = totalHits.Int64

	rows, err := s.db.Query(`
		SELECT task_type, COUNT(*) AS count
		FROM conversations
		WHERE task_type IS NOT NULL
		GROUP BY task_type
		ORDER BY count DESC
		LIMIT 5`)
	if err != nil {
		return Stats{}, fmt.Errorf("ranking task types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tt TaskTypeCount
		if err := rows.Scan(&tt.TaskType, &tt.Count); err != nil {
			return Stats{}, err
		}
		stats.TopTaskTypes = append(stats.TopTaskTypes, tt)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	return stats, nil
}

// --- helpers ---

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Tolerate RFC3339 for rows written by external tooling.
		if t2, err2 := time.Parse(time.RFC3339, s); err2 == nil {
			return t2, nil
		}
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
