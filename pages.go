package cmlyst

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ListFilter selects which kinds of rows ListPages returns.
type ListFilter int

const (
	FilterAll ListFilter = iota
	FilterPages
	FilterPosts
)

// SortOrder selects the ORDER BY clause for ListPages. The zero value
// sorts by creation time, newest first.
type SortOrder int

const (
	SortDefault SortOrder = iota
	SortNameAsc
	SortNameDesc
	SortDateAsc
	SortDateDesc
)

// filterClause and sortClause map the enums onto a closed set of fixed
// fragments. Caller input never reaches the query text.
func filterClause(filter ListFilter) string {
	switch filter {
	case FilterPages:
		return " WHERE page = 1"
	case FilterPosts:
		return " WHERE page = 0"
	default:
		return ""
	}
}

func sortClause(sort SortOrder) string {
	switch sort {
	case SortNameAsc:
		return " ORDER BY title ASC"
	case SortNameDesc:
		return " ORDER BY title DESC"
	case SortDateAsc:
		return " ORDER BY created_at ASC"
	default:
		return " ORDER BY created_at DESC"
	}
}

const pageColumns = "id, uuid, path, title, author_id, content, html," +
	" created_at, updated_at, published_at, page, allow_comments"

type rowScanner interface {
	Scan(dest ...any) error
}

func (e *Engine) scanPage(row rowScanner) (*Page, error) {
	var p Page
	var created, updated, published sql.NullString
	err := row.Scan(&p.ID, &p.UUID, &p.Path, &p.Title, &p.AuthorID,
		&p.Content, &p.HTML, &created, &updated, &published,
		&p.IsPage, &p.AllowComments)
	if err != nil {
		return nil, err
	}
	loc := e.location()
	p.Created = parseDateTime(created.String, loc)
	p.Updated = parseDateTime(updated.String, loc)
	p.Published = parseDateTime(published.String, loc)
	p.Author, _ = e.UserByID(p.AuthorID)
	return &p, nil
}

// GetPage returns the page stored under exactly this path, with its
// timestamps converted to the site time zone and its author resolved
// from the user cache. A missing path yields ErrNotFound.
func (e *Engine) GetPage(path string) (*Page, error) {
	row := e.store.db.QueryRow(`SELECT `+pageColumns+` FROM posts WHERE path = ?`, path)
	p, err := e.scanPage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		e.log.Warn("failed to get page", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("cmlyst: get page: %w", err)
	}
	return p, nil
}

// SavePage upserts the page keyed by its path: a new path inserts a
// row, an existing one is updated in place keeping its id and uuid. A
// page without a UUID is assigned one before the write. Timestamps are
// persisted as UTC text regardless of the zone they carry in memory.
// On return p carries the stored identity: the new id and uuid on a
// fresh insert, or the existing row's when the path was already taken.
func (e *Engine) SavePage(p *Page) error {
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	now := e.now()
	if p.Created.IsZero() {
		p.Created = now
	}
	if p.Updated.IsZero() {
		p.Updated = now
	}
	if p.Published.IsZero() {
		p.Published = now
	}

	row := e.store.db.QueryRow(`INSERT INTO posts
		(path, uuid, title, author_id, content, html,
		 created_at, updated_at, published_at, page, published, allow_comments)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(path) DO UPDATE SET
			title = excluded.title,
			author_id = excluded.author_id,
			content = excluded.content,
			html = excluded.html,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			published_at = excluded.published_at,
			page = excluded.page,
			allow_comments = excluded.allow_comments
		RETURNING id, uuid`,
		p.Path, p.UUID, p.Title, p.AuthorID, p.Content, p.HTML,
		formatDateTime(p.Created), formatDateTime(p.Updated), formatDateTime(p.Published),
		p.IsPage, p.AllowComments)
	if err := row.Scan(&p.ID, &p.UUID); err != nil {
		e.log.Warn("failed to save page", zap.String("path", p.Path), zap.Error(err))
		return fmt.Errorf("cmlyst: save page: %w", err)
	}
	return nil
}

// RemovePage deletes the page with the given id. Exactly one row must
// go away: zero rows yields ErrNotFound, more than one ErrIntegrity
// since id is unique and such a delete means the invariant is broken.
func (e *Engine) RemovePage(id int64) error {
	res, err := e.store.db.Exec(`DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		e.log.Warn("failed to remove page", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("cmlyst: remove page: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cmlyst: remove page: %w", err)
	}
	switch {
	case n == 0:
		return ErrNotFound
	case n > 1:
		e.log.Error("delete by id affected multiple rows",
			zap.Int64("id", id), zap.Int64("rows", n))
		return ErrIntegrity
	}
	return nil
}

// ListPages returns up to limit pages matching filter, ordered by
// sort.
func (e *Engine) ListPages(filter ListFilter, sort SortOrder, limit int) ([]*Page, error) {
	query := `SELECT ` + pageColumns + ` FROM posts` + filterClause(filter) + sortClause(sort) + ` LIMIT ?`
	rows, err := e.store.db.Query(query, limit)
	if err != nil {
		e.log.Warn("failed to list pages", zap.Error(err))
		return nil, fmt.Errorf("cmlyst: list pages: %w", err)
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		p, err := e.scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("cmlyst: list pages: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cmlyst: list pages: %w", err)
	}
	return pages, nil
}
