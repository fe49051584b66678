package memory

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Agent names recorded in learnings and completed-agent lists.
const (
	AgentResearch = "research"
	AgentAnalyzer = "analyzer"
	AgentWriter   = "writer"
)

// Conversation is one user request from start to finish.
type Conversation struct {
	ID               int64     `json:"id"`
	UserQuery        string    `json:"user_query"`
	TaskType         string    `json:"task_type,omitempty"`
	UserProvidedData string    `json:"user_provided_data,omitempty"`
	AgentsUsed       []string  `json:"agents_used,omitempty"`
	Success          bool      `json:"success"`
	CreatedAt        time.Time `json:"created_at"`
}

// ResearchHit is one past research record returned by keyword recall.
type ResearchHit struct {
	Query     string    `json:"query"`
	Results   string    `json:"results"`
	CreatedAt time.Time `json:"created_at"`
}

// AnalysisHit is one past analysis joined with its originating query.
type AnalysisHit struct {
	Analysis      string    `json:"analysis"`
	KeyInsights   []string  `json:"key_insights,omitempty"`
	OriginalQuery string    `json:"original_query"`
	CreatedAt     time.Time `json:"created_at"`
}

// ArticleHit is one past article joined with its originating query.
type ArticleHit struct {
	Article       string    `json:"article"`
	QualityScore  float64   `json:"quality_score"`
	WordCount     int       `json:"word_count"`
	OriginalQuery string    `json:"original_query"`
	CreatedAt     time.Time `json:"created_at"`
}

// Learning is an append-only advisory note about a stage outcome.
type Learning struct {
	AgentName      string    `json:"agent_name"`
	Lesson         string    `json:"lesson"`
	Context        string    `json:"context,omitempty"`
	SuccessPattern bool      `json:"success_pattern"`
	CreatedAt      time.Time `json:"created_at"`
}

// TaskTypeCount is one entry of the top-task-types ranking.
type TaskTypeCount struct {
	TaskType string `json:"task_type"`
	Count    int    `json:"count"`
}

// Stats aggregates counters across the whole store.
type Stats struct {
	TotalConversations      int             `json:"total_conversations"`
	SuccessfulConversations int             `json:"successful_conversations"`
	TotalResearch           int             `json:"total_research"`
	TotalAnalyses           int             `json:"total_analyses"`
	TotalArticles           int             `json:"total_articles"`
	AverageArticleQuality   float64         `json:"average_article_quality"`
	CachedQueries           int             `json:"cached_queries"`
	TotalCacheHits          int64           `json:"total_cache_hits"`
	TopTaskTypes            []TaskTypeCount `json:"top_task_types"`
}
