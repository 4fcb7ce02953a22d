package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over diagram titles, scoped to diagrams the
// actor owns, has a direct share on, or can reach through a shared folder's
// subtree.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const tsQuery = "plainto_tsquery('english', $1)"
	args := []any{q.Text}

	where := "d.fts @@ " + tsQuery
	if q.ActorID != "" {
		where += fmt.Sprintf(`
			AND (
				d.owner_id = $2
				OR EXISTS (
					SELECT 1 FROM shares s
					WHERE s.resource_type = 'diagram' AND s.resource_id = d.id AND s.subject_id = $2
				)
				OR d.folder_id IN (
					WITH RECURSIVE shared_folders AS (
						SELECT f.id FROM folders f
						JOIN shares s ON s.resource_type = 'folder' AND s.resource_id = f.id
						WHERE s.subject_id = $2
						UNION
						SELECT f.id FROM folders f
						JOIN shared_folders sf ON f.parent_id = sf.id
					)
					SELECT id FROM shared_folders
				)
			)`)
		args = append(args, q.ActorID)
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM diagrams d WHERE %s", where)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.title,
			ts_headline('english', d.title, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			coalesce(d.folder_id, ''), d.owner_id
		FROM diagrams d
		WHERE %s
		ORDER BY ts_rank(d.fts, %s) DESC, d.updated_at DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.FolderID, &r.OwnerID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every diagram with its access list for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DiagramRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.title, coalesce(d.folder_id, ''), d.owner_id,
			array_remove(array_agg(DISTINCT s.subject_id), NULL)
		FROM diagrams d
		LEFT JOIN shares s ON s.resource_type = 'diagram' AND s.resource_id = d.id
		GROUP BY d.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load diagrams: %w", err)
	}
	defer rows.Close()

	records := make([]DiagramRecord, 0)
	for rows.Next() {
		var d DiagramRecord
		var subjects []byte
		if err := rows.Scan(&d.ID, &d.Title, &d.FolderID, &d.OwnerID, &subjects); err != nil {
			return nil, fmt.Errorf("scan diagram: %w", err)
		}
		d.AccessIDs = append(parsePgTextArray(string(subjects)), d.OwnerID)
		records = append(records, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagrams: %w", err)
	}
	return records, nil
}

// parsePgTextArray decodes a simple Postgres text[] literal like {a,b,c}.
// Share subject IDs never contain quotes or commas, so no escaping is needed.
func parsePgTextArray(s string) []string {
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
