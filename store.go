package bloggart

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps a SQLite database holding posts, pages, the archive date
// index, images, settings and the rendered static content.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and runs schema migrations.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	// Pragmas go in the DSN so every pooled connection gets them. WAL lets
	// the public handler read while a regeneration writes.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)&_pragma=cache_size(-8000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS posts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT UNIQUE,
    title TEXT NOT NULL,
    body TEXT NOT NULL DEFAULT '',
    body_markup TEXT NOT NULL DEFAULT 'html',
    tags TEXT NOT NULL DEFAULT ',',
    normalized_tags TEXT NOT NULL DEFAULT ',',
    draft TEXT NOT NULL DEFAULT '',
    published INTEGER,
    updated INTEGER,
    created INTEGER NOT NULL,
    is_deleted INTEGER NOT NULL DEFAULT 0,
    deps TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS posts_published ON posts (is_deleted, published);
CREATE INDEX IF NOT EXISTS posts_updated ON posts (is_deleted, updated);

CREATE TABLE IF NOT EXISTS blog_dates (
    key TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS pages (
    path TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    template TEXT NOT NULL,
    body TEXT NOT NULL DEFAULT '',
    created INTEGER NOT NULL,
    updated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS static_content (
    path TEXT PRIMARY KEY,
    body BLOB NOT NULL,
    content_type TEXT NOT NULL,
    status INTEGER NOT NULL DEFAULT 200,
    last_modified INTEGER NOT NULL,
    etag TEXT NOT NULL,
    headers TEXT NOT NULL DEFAULT '{}',
    indexed INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS images (
    filename TEXT PRIMARY KEY,
    original_name TEXT NOT NULL,
    width INTEGER NOT NULL,
    height INTEGER NOT NULL,
    size INTEGER NOT NULL,
    uploaded_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`)
	return err
}

func toMicro(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMicro()
}

func fromMicro(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMicro(v.Int64).UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Posts

const postColumns = `id, path, title, body, body_markup, tags, draft, published, updated, created, is_deleted, deps`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*Post, error) {
	var (
		p                          Post
		path                       sql.NullString
		tags, deps                 string
		published, updated, create sql.NullInt64
		deleted                    int
	)
	if err := row.Scan(&p.ID, &path, &p.Title, &p.Body, &p.BodyMarkup, &tags, &p.Draft,
		&published, &updated, &create, &deleted, &deps); err != nil {
		return nil, err
	}
	p.Path = path.String
	p.Tags = ParseTags(tags)
	p.Published = fromMicro(published)
	p.Updated = fromMicro(updated)
	p.Created = fromMicro(create)
	p.Deleted = deleted == 1
	if err := json.Unmarshal([]byte(deps), &p.Deps); err != nil {
		return nil, fmt.Errorf("post %d deps: %w", p.ID, err)
	}
	if p.Deps == nil {
		p.Deps = map[string]Dep{}
	}
	return &p, nil
}

func scanPosts(rows *sql.Rows) ([]*Post, error) {
	defer rows.Close()
	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// GetPost returns a post by id. Soft-deleted posts are reported as not found.
func (s *Store) GetPost(ctx context.Context, id int64) (*Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = ? AND is_deleted = 0`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetPostByPath returns the published, non-deleted post at path.
func (s *Store) GetPostByPath(ctx context.Context, path string) (*Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE path = ? AND is_deleted = 0`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// PathTaken reports whether any post, deleted or not, owns path.
func (s *Store) PathTaken(ctx context.Context, path string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE path = ?`, path).Scan(&n)
	return n > 0, err
}

// SavePost inserts the post when its ID is zero and updates it otherwise.
func (s *Store) SavePost(ctx context.Context, p *Post) error {
	if p.Deps == nil {
		p.Deps = map[string]Dep{}
	}
	deps, err := json.Marshal(p.Deps)
	if err != nil {
		return err
	}
	if p.Created.IsZero() {
		p.Created = time.Now().UTC()
	}
	args := []any{
		nullString(p.Path), p.Title, p.Body, p.BodyMarkup,
		formatTags(p.Tags), formatTags(p.NormalizedTags()), p.Draft,
		toMicro(p.Published), toMicro(p.Updated), p.Created.UnixMicro(),
		boolInt(p.Deleted), string(deps),
	}
	if p.ID == 0 {
		res, err := s.db.ExecContext(ctx, `INSERT INTO posts
			(path, title, body, body_markup, tags, normalized_tags, draft, published, updated, created, is_deleted, deps)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return err
		}
		p.ID, err = res.LastInsertId()
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE posts SET
		path = ?, title = ?, body = ?, body_markup = ?, tags = ?, normalized_tags = ?, draft = ?,
		published = ?, updated = ?, created = ?, is_deleted = ?, deps = ?
		WHERE id = ?`, append(args, p.ID)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPosts returns a page of non-deleted posts, drafts included, newest
// first, for the admin index.
func (s *Store) ListPosts(ctx context.Context, offset, count int) ([]*Post, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts
		WHERE is_deleted = 0
		ORDER BY COALESCE(published, created) DESC, id DESC
		LIMIT ? OFFSET ?`, count, offset)
	if err != nil {
		return nil, err
	}
	return scanPosts(rows)
}

// PostQuery selects published, non-deleted posts.
type PostQuery struct {
	Tag    string    // normalized tag the post must carry
	From   time.Time // published >= From
	Before time.Time // published < Before
	Limit  int
	// ByUpdated orders by update time instead of publication time.
	ByUpdated bool
}

// QueryPosts returns published, non-deleted posts matching q, newest first.
func (s *Store) QueryPosts(ctx context.Context, q PostQuery) ([]*Post, error) {
	where := []string{"is_deleted = 0", "path IS NOT NULL", "published IS NOT NULL"}
	var args []any
	if q.Tag != "" {
		where = append(where, "instr(normalized_tags, ',' || ? || ',') > 0")
		args = append(args, q.Tag)
	}
	if !q.From.IsZero() {
		where = append(where, "published >= ?")
		args = append(args, q.From.UnixMicro())
	}
	if !q.Before.IsZero() {
		where = append(where, "published < ?")
		args = append(args, q.Before.UnixMicro())
	}
	order := "published DESC, id DESC"
	if q.ByUpdated {
		order = "updated DESC, id DESC"
	}
	query := `SELECT ` + postColumns + ` FROM posts WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ` + order
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanPosts(rows)
}

// Neighbors returns the published posts immediately before and after p in
// publication order. Either may be nil.
func (s *Store) Neighbors(ctx context.Context, p *Post) (prev, next *Post, err error) {
	if p.Published.IsZero() {
		return nil, nil, nil
	}
	prev, err = s.neighbor(ctx, `published < ? ORDER BY published DESC`, p)
	if err != nil {
		return nil, nil, err
	}
	next, err = s.neighbor(ctx, `published > ? ORDER BY published ASC`, p)
	if err != nil {
		return nil, nil, err
	}
	return prev, next, nil
}

func (s *Store) neighbor(ctx context.Context, cond string, p *Post) (*Post, error) {
	n, err := scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts
		WHERE is_deleted = 0 AND path IS NOT NULL AND id != ? AND `+cond+` LIMIT 1`,
		p.ID, p.Published.UnixMicro()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

// PublishedAfter returns up to limit published posts with id greater than
// afterID, in id order. Deleted posts are included so their resources can
// be cleaned up.
func (s *Store) PublishedAfter(ctx context.Context, afterID int64, limit int) ([]*Post, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts
		WHERE id > ? AND path IS NOT NULL
		ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return scanPosts(rows)
}

// Archive dates

// AddBlogDate records that at least one post was published in d's month.
func (s *Store) AddBlogDate(ctx context.Context, d BlogDate) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO blog_dates (key) VALUES (?)`, d.Key())
	return err
}

// ListBlogDates returns every recorded month, newest first.
func (s *Store) ListBlogDates(ctx context.Context) ([]BlogDate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM blog_dates ORDER BY key DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var dates []BlogDate
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		d, err := ParseBlogDate(key)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// Pages

const pageColumns = `path, title, template, body, created, updated`

func scanPage(row rowScanner) (*Page, error) {
	var p Page
	var created, updated sql.NullInt64
	if err := row.Scan(&p.Path, &p.Title, &p.Template, &p.Body, &created, &updated); err != nil {
		return nil, err
	}
	p.Created = fromMicro(created)
	p.Updated = fromMicro(updated)
	return &p, nil
}

// GetPage returns the page stored at path.
func (s *Store) GetPage(ctx context.Context, path string) (*Page, error) {
	p, err := scanPage(s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// SavePage upserts a page keyed by its path.
func (s *Store) SavePage(ctx context.Context, p *Page) error {
	if p.Created.IsZero() {
		p.Created = time.Now().UTC()
	}
	if p.Updated.IsZero() {
		p.Updated = p.Created
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO pages (`+pageColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		p.Path, p.Title, p.Template, p.Body, p.Created.UnixMicro(), p.Updated.UnixMicro())
	return err
}

// DeletePage removes the page at path.
func (s *Store) DeletePage(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE path = ?`, path)
	return err
}

// ListPages returns a page of pages ordered by most recently updated.
// A negative count returns every page.
func (s *Store) ListPages(ctx context.Context, offset, count int) ([]*Page, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pageColumns+` FROM pages
		ORDER BY updated DESC, path ASC LIMIT ? OFFSET ?`, count, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pages []*Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// Images

// SaveImage records an uploaded image.
func (s *Store) SaveImage(ctx context.Context, img Image) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO images
		(filename, original_name, width, height, size, uploaded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		img.Filename, img.OriginalName, img.Width, img.Height, img.Size, img.UploadedAt.UnixMicro())
	return err
}

// ListImages returns uploaded images, newest first.
func (s *Store) ListImages(ctx context.Context) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename, original_name, width, height, size, uploaded_at
		FROM images ORDER BY uploaded_at DESC, filename ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var images []Image
	for rows.Next() {
		var img Image
		var uploaded sql.NullInt64
		if err := rows.Scan(&img.Filename, &img.OriginalName, &img.Width, &img.Height, &img.Size, &uploaded); err != nil {
			return nil, err
		}
		img.UploadedAt = fromMicro(uploaded)
		images = append(images, img)
	}
	return images, rows.Err()
}

// DeleteImage removes an image record. It returns ErrNotFound when no such
// image exists.
func (s *Store) DeleteImage(ctx context.Context, filename string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE filename = ?`, filename)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Settings

// InitSetting stores value under key unless a value is already present, and
// returns whichever value ends up stored.
func (s *Store) InitSetting(ctx context.Context, key, value string) (string, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, value); err != nil {
		return "", err
	}
	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&stored)
	return stored, err
}

// Static content

// StaticRecord is a rendered resource as stored.
type StaticRecord struct {
	Path         string
	Body         []byte
	ContentType  string
	Status       int
	LastModified time.Time
	ETag         string
	Headers      map[string]string
	Indexed      bool
}

// PutStatic upserts a static record.
func (s *Store) PutStatic(ctx context.Context, r *StaticRecord) error {
	headers, err := json.Marshal(r.Headers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO static_content
		(path, body, content_type, status, last_modified, etag, headers, indexed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Path, r.Body, r.ContentType, r.Status, r.LastModified.UnixMicro(), r.ETag, string(headers), boolInt(r.Indexed))
	return err
}

// GetStatic returns the record at path.
func (s *Store) GetStatic(ctx context.Context, path string) (*StaticRecord, error) {
	var (
		r        StaticRecord
		modified sql.NullInt64
		headers  string
		indexed  int
	)
	err := s.db.QueryRowContext(ctx, `SELECT path, body, content_type, status, last_modified, etag, headers, indexed
		FROM static_content WHERE path = ?`, path).
		Scan(&r.Path, &r.Body, &r.ContentType, &r.Status, &modified, &r.ETag, &headers, &indexed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.LastModified = fromMicro(modified)
	r.Indexed = indexed == 1
	if err := json.Unmarshal([]byte(headers), &r.Headers); err != nil {
		return nil, fmt.Errorf("static %s headers: %w", path, err)
	}
	return &r, nil
}

// DeleteStatic removes the record at path. Missing paths are not an error.
func (s *Store) DeleteStatic(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM static_content WHERE path = ?`, path)
	return err
}

// IndexedStaticPaths returns the paths of all indexed static records.
func (s *Store) IndexedStaticPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM static_content WHERE indexed = 1 ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// CountStatic returns the number of stored static records.
func (s *Store) CountStatic(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM static_content`).Scan(&n)
	return n, err
}
