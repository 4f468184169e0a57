// Package articles reads the ingested news feed and persists analysis
// results. Articles arrive via an external ETL process; this package never
// writes the articles table outside of tests.
package articles

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/signalpress/signalpress/errors"
)

// Article is one ingested news item
type Article struct {
	ID            string    `json:"id" db:"id"`
	Title         string    `json:"title" db:"title"`
	URL           string    `json:"url" db:"url"`
	SourceDomain  string    `json:"source_domain" db:"source_domain"`
	Content       string    `json:"content" db:"content"`
	ContentLength int       `json:"content_length" db:"content_length"`
	PublishedAt   time.Time `json:"published_at" db:"published_at"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Validation status values for an analysis result
const (
	ValidationPending      = "PENDING"
	ValidationNotRequired  = "NOT_REQUIRED"
	ValidationValidated    = "VALIDATED"
	ValidationFailed       = "FAILED"
	ValidationInconclusive = "INCONCLUSIVE"
)

// AnalysisResult is one append-only analysis record. The newest row per
// article is authoritative; older rows are kept for audit.
type AnalysisResult struct {
	ID                int64     `json:"id" db:"id"`
	ArticleID         string    `json:"article_id" db:"article_id"`
	SignalStrength    float64   `json:"signal_strength" db:"signal_strength"`
	Uniqueness        float64   `json:"uniqueness" db:"uniqueness"`
	Confidence        float64   `json:"confidence" db:"confidence"`
	ValidationStatus  string    `json:"validation_status" db:"validation_status"`
	ValidationRetries int       `json:"validation_retries" db:"validation_retries"`
	Summary           string    `json:"summary" db:"summary"`
	Cost              float64   `json:"cost" db:"cost"`
	ProducedAt        time.Time `json:"produced_at" db:"produced_at"`
}

// Analyzed is an article joined with its latest analysis result
type Analyzed struct {
	Article  Article        `json:"article"`
	Analysis AnalysisResult `json:"analysis"`
}

// Store provides read access to articles and persistence for analyses
type Store struct {
	db *sql.DB
}

// NewStore creates a new article store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetArticle retrieves one article by ID
func (s *Store) GetArticle(id string) (*Article, error) {
	query := `
		SELECT id, title, url, source_domain, content, content_length, published_at, created_at
		FROM articles WHERE id = ?`

	var a Article
	err := s.db.QueryRow(query, id).Scan(
		&a.ID, &a.Title, &a.URL, &a.SourceDomain, &a.Content,
		&a.ContentLength, &a.PublishedAt, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("article %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get article")
	}
	return &a, nil
}

// ListUnanalyzed returns articles with no analysis result yet, newest first.
// Articles below minContentLength are skipped entirely; they never enter a
// batch session.
func (s *Store) ListUnanalyzed(minContentLength, limit int) ([]Article, error) {
	query := `
		SELECT a.id, a.title, a.url, a.source_domain, a.content, a.content_length,
		       a.published_at, a.created_at
		FROM articles a
		WHERE a.content_length >= ?
		  AND NOT EXISTS (SELECT 1 FROM analysis_results r WHERE r.article_id = a.id)
		ORDER BY a.published_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, minContentLength, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unanalyzed articles")
	}
	defer rows.Close()

	var out []Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.ID, &a.Title, &a.URL, &a.SourceDomain, &a.Content,
			&a.ContentLength, &a.PublishedAt, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan article")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAnalysis appends one analysis result. Existing rows for the same
// article are never updated; re-analysis writes a new row.
func (s *Store) SaveAnalysis(result *AnalysisResult) error {
	if result.ValidationStatus == "" {
		result.ValidationStatus = ValidationNotRequired
	}
	if result.ProducedAt.IsZero() {
		result.ProducedAt = time.Now()
	}

	query := `
		INSERT INTO analysis_results (
			article_id, signal_strength, uniqueness, confidence,
			validation_status, validation_retries, summary, cost, produced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.Exec(query,
		result.ArticleID, result.SignalStrength, result.Uniqueness, result.Confidence,
		result.ValidationStatus, result.ValidationRetries, result.Summary,
		result.Cost, result.ProducedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save analysis for article %s", result.ArticleID)
	}

	result.ID, _ = res.LastInsertId()
	return nil
}

// latestAnalysisCTE selects the newest analysis row per article
const latestAnalysisCTE = `
	latest AS (
		SELECT r.*
		FROM analysis_results r
		JOIN (
			SELECT article_id, MAX(id) AS max_id
			FROM analysis_results
			GROUP BY article_id
		) m ON m.max_id = r.id
	)`

// LatestAnalyses returns the authoritative analysis per article produced
// within the lookback window, strongest signal first.
func (s *Store) LatestAnalyses(since time.Time) ([]Analyzed, error) {
	query := `
		WITH ` + latestAnalysisCTE + `
		SELECT a.id, a.title, a.url, a.source_domain, a.content, a.content_length,
		       a.published_at, a.created_at,
		       l.id, l.article_id, l.signal_strength, l.uniqueness, l.confidence,
		       l.validation_status, l.validation_retries, l.summary, l.cost, l.produced_at
		FROM latest l
		JOIN articles a ON a.id = l.article_id
		WHERE l.produced_at >= ?
		ORDER BY l.signal_strength DESC`

	rows, err := s.db.Query(query, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query latest analyses")
	}
	defer rows.Close()

	var out []Analyzed
	for rows.Next() {
		var item Analyzed
		if err := rows.Scan(
			&item.Article.ID, &item.Article.Title, &item.Article.URL,
			&item.Article.SourceDomain, &item.Article.Content, &item.Article.ContentLength,
			&item.Article.PublishedAt, &item.Article.CreatedAt,
			&item.Analysis.ID, &item.Analysis.ArticleID, &item.Analysis.SignalStrength,
			&item.Analysis.Uniqueness, &item.Analysis.Confidence,
			&item.Analysis.ValidationStatus, &item.Analysis.ValidationRetries,
			&item.Analysis.Summary, &item.Analysis.Cost, &item.Analysis.ProducedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan analyzed article")
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListInconclusive returns analysis rows stuck in INCONCLUSIVE with fewer
// than maxRetries validation attempts, oldest first. The recovery sweeper
// requeues these for another validation pass.
func (s *Store) ListInconclusive(maxRetries int) ([]AnalysisResult, error) {
	query := `
		SELECT id, article_id, signal_strength, uniqueness, confidence,
		       validation_status, validation_retries, summary, cost, produced_at
		FROM analysis_results
		WHERE validation_status = ? AND validation_retries < ?
		ORDER BY produced_at ASC`

	rows, err := s.db.Query(query, ValidationInconclusive, maxRetries)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list inconclusive analyses")
	}
	defer rows.Close()

	var out []AnalysisResult
	for rows.Next() {
		var r AnalysisResult
		if err := rows.Scan(&r.ID, &r.ArticleID, &r.SignalStrength, &r.Uniqueness,
			&r.Confidence, &r.ValidationStatus, &r.ValidationRetries,
			&r.Summary, &r.Cost, &r.ProducedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan analysis result")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkValidationAttempt records one more validation attempt and its outcome
func (s *Store) MarkValidationAttempt(resultID int64, status string) error {
	res, err := s.db.Exec(
		`UPDATE analysis_results
		 SET validation_status = ?, validation_retries = validation_retries + 1
		 WHERE id = ?`,
		status, resultID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record validation attempt")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("analysis result %d", resultID)
	}
	return nil
}

// InsertArticle writes one article row. Production ingestion happens in the
// external ETL; this exists for tests and the dev seed command.
func (s *Store) InsertArticle(a *Article) error {
	if a.ContentLength == 0 {
		a.ContentLength = len(a.Content)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO articles (id, title, url, source_domain, content, content_length, published_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.URL, a.SourceDomain, a.Content, a.ContentLength, a.PublishedAt, a.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert article %s", a.ID)
	}
	return nil
}

// CountAnalyzed returns how many of the given articles have at least one
// analysis result. Used to compute accurate session counters across resumes.
func (s *Store) CountAnalyzed(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `SELECT COUNT(DISTINCT article_id) FROM analysis_results WHERE article_id IN (?`
	args := []interface{}{ids[0]}
	for _, id := range ids[1:] {
		query += ",?"
		args = append(args, id)
	}
	query += ")"

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count analyzed articles")
	}
	return count, nil
}

// DecodeItemIDs parses a JSON-encoded list of article IDs as stored in
// batch records.
func DecodeItemIDs(encoded string) ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(encoded), &ids); err != nil {
		return nil, errors.Wrap(err, "malformed item ID list")
	}
	return ids, nil
}

// EncodeItemIDs serializes a list of article IDs for storage
func EncodeItemIDs(ids []string) string {
	data, _ := json.Marshal(ids)
	return string(data)
}
