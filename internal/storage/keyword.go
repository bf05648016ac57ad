package storage

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Normalizer names pinned into score_details so replay can interpret scores.
const (
	NormalizerBM25Logistic = "bm25_logistic"
	NormalizerTSRankRatio  = "ts_rank_ratio"
)

// SearchByKeyword runs full-text search over node text within a KB. The
// store's native score is lower-is-better for SQLite bm25 and higher-is-better
// for Postgres ts_rank_cd; both are normalized to a higher-is-better value in
// (0,1) before leaving the repository, with the normalizer name pinned on
// each match.
func (r *NodeRepository) SearchByKeyword(ctx context.Context, kbID uuid.UUID, query string, topK int) ([]KeywordMatch, error) {
	if topK <= 0 {
		return nil, nil
	}

	switch r.driver {
	case DriverSQLite:
		return r.searchSQLite(ctx, kbID, query, topK)
	case DriverPostgres:
		return r.searchPostgres(ctx, kbID, query, topK)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", r.driver)
	}
}

func (r *NodeRepository) searchSQLite(ctx context.Context, kbID uuid.UUID, query string, topK int) ([]KeywordMatch, error) {
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT n.id, n.file_id, n.document_id, n.text, n.page, bm25(node_fts) AS raw
		FROM node_fts
		JOIN nodes n ON n.rowid = node_fts.rowid
		WHERE node_fts MATCH $1 AND n.kb_id = $2
		ORDER BY raw ASC
		LIMIT $3
	`, match, kbID, topK)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var matches []KeywordMatch
	for rows.Next() {
		var m KeywordMatch
		if err := rows.Scan(&m.NodeID, &m.FileID, &m.DocumentID, &m.Text, &m.Page, &m.RawScore); err != nil {
			return nil, err
		}
		// bm25() is lower-is-better (typically negative); the logistic maps
		// it monotonically into (0,1) with better matches near 1.
		m.Score = 1.0 / (1.0 + math.Exp(m.RawScore))
		m.Normalizer = NormalizerBM25Logistic
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (r *NodeRepository) searchPostgres(ctx context.Context, kbID uuid.UUID, query string, topK int) ([]KeywordMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, file_id, document_id, text, page,
			ts_rank_cd(text_tsv, plainto_tsquery('english', $1)) AS raw
		FROM nodes
		WHERE kb_id = $2 AND text_tsv @@ plainto_tsquery('english', $1)
		ORDER BY raw DESC
		LIMIT $3
	`, query, kbID, topK)
	if err != nil {
		return nil, fmt.Errorf("tsquery search: %w", err)
	}
	defer rows.Close()

	var matches []KeywordMatch
	for rows.Next() {
		var m KeywordMatch
		if err := rows.Scan(&m.NodeID, &m.FileID, &m.DocumentID, &m.Text, &m.Page, &m.RawScore); err != nil {
			return nil, err
		}
		// ts_rank_cd is already higher-is-better but unbounded; squash to (0,1).
		m.Score = m.RawScore / (1.0 + m.RawScore)
		m.Normalizer = NormalizerTSRankRatio
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// ftsMatchExpr turns a free-text query into a safe FTS5 MATCH expression:
// each token is double-quoted and tokens are OR-ed.
func ftsMatchExpr(query string) string {
	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	if len(tokens) == 0 {
		return ""
	}

	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// GetPage returns the concatenated node text of one document page, truncated
// to maxChars. Used for evidence previews.
func (r *NodeRepository) GetPage(ctx context.Context, documentID uuid.UUID, page, maxChars int) (string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT text FROM nodes
		WHERE document_id = $1 AND page = $2
		ORDER BY node_index
	`, documentID, page)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", ErrNotFound
	}

	joined := strings.Join(parts, "\n\n")
	if maxChars > 0 && len(joined) > maxChars {
		joined = joined[:maxChars]
	}
	return joined, nil
}
