package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/relabs-tech/kumii/core/content"
	"github.com/relabs-tech/kumii/core/csql"
)

// ListCategories returns all non-archived categories with their boards
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Q(`SELECT id, name, description, icon, sort_order, archived, created_at
FROM {schema}.forum_categories WHERE archived = false ORDER BY sort_order, created_at;`))
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []Category{}
	index := map[uuid.UUID]int{}
	ids := []uuid.UUID{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Icon, &c.SortOrder, &c.Archived, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Slug = content.Slug(c.Name)
		c.Boards = []Board{}
		index[c.ID] = len(categories)
		ids = append(ids, c.ID)
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return categories, nil
	}

	boards, err := s.queryBoards(ctx, `WHERE category_id = ANY($1::uuid[])`, uuidArray(ids))
	if err != nil {
		return nil, err
	}
	for _, b := range boards {
		c := &categories[index[b.CategoryID]]
		c.Boards = append(c.Boards, b)
		c.BoardCount++
	}
	return categories, nil
}

// GetCategory returns a category by id
func (s *Store) GetCategory(ctx context.Context, id uuid.UUID) (*Category, error) {
	var c Category
	err := s.db.QueryRowContext(ctx, s.db.Q(`SELECT id, name, description, icon, sort_order, archived, created_at
FROM {schema}.forum_categories WHERE id = $1;`), id).
		Scan(&c.ID, &c.Name, &c.Description, &c.Icon, &c.SortOrder, &c.Archived, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	c.Slug = content.Slug(c.Name)
	c.Boards = []Board{}
	return &c, nil
}

// CreateCategory appends a new category after all existing ones
func (s *Store) CreateCategory(ctx context.Context, name, description string, icon *string) (*Category, error) {
	var c Category
	err := s.db.QueryRowContext(ctx, s.db.Q(`INSERT INTO {schema}.forum_categories (name, description, icon, sort_order, archived)
VALUES ($1, $2, $3, (SELECT COALESCE(max(sort_order), 0) + 1 FROM {schema}.forum_categories), false)
RETURNING id, name, description, icon, sort_order, archived, created_at;`), name, description, icon).
		Scan(&c.ID, &c.Name, &c.Description, &c.Icon, &c.SortOrder, &c.Archived, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert category: %w", err)
	}
	c.Slug = content.Slug(c.Name)
	c.Boards = []Board{}
	return &c, nil
}

func (s *Store) queryBoards(ctx context.Context, where string, args ...interface{}) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Q(`SELECT id, category_id, name, description, sort_order, is_private, required_role, created_at
FROM {schema}.forum_boards `+where+` ORDER BY sort_order, created_at;`), args...)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()
	boards := []Board{}
	for rows.Next() {
		var b Board
		if err := rows.Scan(&b.ID, &b.CategoryID, &b.Name, &b.Description, &b.SortOrder, &b.IsPrivate, &b.RequiredRole, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Slug = content.Slug(b.Name)
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// ListBoards returns the boards of a category
func (s *Store) ListBoards(ctx context.Context, categoryID uuid.UUID) ([]Board, error) {
	return s.queryBoards(ctx, `WHERE category_id = $1`, categoryID)
}

// GetBoard returns a board by id
func (s *Store) GetBoard(ctx context.Context, id uuid.UUID) (*Board, error) {
	boards, err := s.queryBoards(ctx, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(boards) == 0 {
		return nil, ErrNotFound
	}
	return &boards[0], nil
}

// CreateBoard appends a new public board to the category. ErrNotFound is returned if
// the category does not exist.
func (s *Store) CreateBoard(ctx context.Context, categoryID uuid.UUID, name, description string) (*Board, error) {
	var b Board
	err := s.db.QueryRowContext(ctx, s.db.Q(`INSERT INTO {schema}.forum_boards (category_id, name, description, sort_order, is_private, required_role)
VALUES ($1, $2, $3, (SELECT COALESCE(max(sort_order), 0) + 1 FROM {schema}.forum_boards WHERE category_id = $1), false, NULL)
RETURNING id, category_id, name, description, sort_order, is_private, required_role, created_at;`), categoryID, name, description).
		Scan(&b.ID, &b.CategoryID, &b.Name, &b.Description, &b.SortOrder, &b.IsPrivate, &b.RequiredRole, &b.CreatedAt)
	if err != nil {
		if csql.IsForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("insert board: %w", err)
	}
	b.Slug = content.Slug(b.Name)
	return &b, nil
}

const threadSelect = `SELECT t.id, t.board_id, t.author_id, t.title, t.content, t.is_pinned, t.is_locked, t.views_count,
t.created_at, t.updated_at, t.last_post_at, `

func scanThread(scan func(dest ...interface{}) error) (*Thread, error) {
	var t Thread
	var author profileColumns
	err := scan(append([]interface{}{&t.ID, &t.BoardID, &t.AuthorID, &t.Title, &t.Content, &t.IsPinned, &t.IsLocked, &t.ViewsCount,
		&t.CreatedAt, &t.UpdatedAt, &t.LastPostAt}, author.dest()...)...)
	if err != nil {
		return nil, err
	}
	t.Author = author.summary()
	return &t, nil
}

// ListBoardThreads returns the non-deleted threads of a board, pinned ones first, then
// by latest activity, together with their total number.
func (s *Store) ListBoardThreads(ctx context.Context, boardID uuid.UUID, limit, offset int) ([]Thread, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, s.db.Q(`SELECT count(*) FROM {schema}.forum_threads WHERE board_id = $1 AND deleted = false;`), boardID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count threads: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, s.db.Q(threadSelect+profileSelect("p")+`
FROM {schema}.forum_threads t
LEFT JOIN {schema}.profiles p ON p.id = t.author_id
WHERE t.board_id = $1 AND t.deleted = false
ORDER BY t.is_pinned DESC, t.last_post_at DESC
LIMIT $2 OFFSET $3;`), boardID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()
	threads := []Thread{}
	for rows.Next() {
		t, err := scanThread(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		threads = append(threads, *t)
	}
	return threads, total, rows.Err()
}

const threadStats = `(SELECT count(*) FROM {schema}.forum_posts fp WHERE fp.thread_id = t.id AND fp.deleted = false),
COALESCE((SELECT sum(v.vote_value) FROM {schema}.forum_votes v WHERE v.thread_id = t.id AND v.post_id IS NULL), 0)`

// SearchThreads lists non-deleted threads filtered by board and a case-insensitive
// search on title and content. Pinned threads always come first.
func (s *Store) SearchThreads(ctx context.Context, q ThreadQuery) ([]ThreadListItem, int, error) {
	var boardID interface{}
	if q.BoardID != nil {
		boardID = *q.BoardID
	}
	pattern := "%" + escapeLike(q.Search) + "%"
	where := `WHERE t.deleted = false AND ($1::uuid IS NULL OR t.board_id = $1)
AND ($2::text = '' OR t.title ILIKE $3 OR t.content ILIKE $3)`

	var total int
	err := s.db.QueryRowContext(ctx, s.db.Q(`SELECT count(*) FROM {schema}.forum_threads t `+where+`;`), boardID, q.Search, pattern).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count threads: %w", err)
	}

	order := `t.is_pinned DESC, t.created_at DESC`
	if q.Sort == SortTrending {
		order = `t.is_pinned DESC, t.views_count DESC, t.last_post_at DESC`
	}
	rows, err := s.db.QueryContext(ctx, s.db.Q(`SELECT t.id, t.title, left(t.content, 200), p.id, p.full_name, p.avatar_url, t.board_id, b.name,
t.created_at, t.updated_at, t.last_post_at, t.is_pinned, t.is_locked, t.views_count, `+threadStats+`
FROM {schema}.forum_threads t
LEFT JOIN {schema}.profiles p ON p.id = t.author_id
LEFT JOIN {schema}.forum_boards b ON b.id = t.board_id
`+where+`
ORDER BY `+order+`
LIMIT $4 OFFSET $5;`), boardID, q.Search, pattern, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()
	items := []ThreadListItem{}
	for rows.Next() {
		var i ThreadListItem
		err := rows.Scan(&i.ID, &i.Title, &i.ContentPreview, &i.AuthorID, &i.AuthorName, &i.AuthorAvatar, &i.BoardID, &i.BoardName,
			&i.CreatedAt, &i.UpdatedAt, &i.LastPostAt, &i.IsPinned, &i.IsLocked, &i.ViewCount, &i.ReplyCount, &i.VoteScore)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, i)
	}
	return items, total, rows.Err()
}

// ViewThread increments the view counter of a non-deleted thread and returns its
// details with the incremented counter.
func (s *Store) ViewThread(ctx context.Context, id uuid.UUID) (*ThreadDetail, error) {
	var d ThreadDetail
	var authorName, authorRole, boardName sql.NullString
	err := s.db.QueryRowContext(ctx, s.db.Q(`WITH t AS (
UPDATE {schema}.forum_threads SET views_count = views_count + 1 WHERE id = $1 AND deleted = false RETURNING *
)
SELECT t.id, t.title, t.content, t.author_id, p.full_name, p.avatar_url, p.role, t.board_id, b.name, b.category_id,
t.created_at, t.updated_at, t.last_post_at, t.is_pinned, t.is_locked, t.views_count, `+threadStats+`
FROM t
LEFT JOIN {schema}.profiles p ON p.id = t.author_id
LEFT JOIN {schema}.forum_boards b ON b.id = t.board_id;`), id).
		Scan(&d.ID, &d.Title, &d.Content, &d.AuthorID, &authorName, &d.AuthorAvatar, &authorRole, &d.BoardID, &boardName, &d.CategoryID,
			&d.CreatedAt, &d.UpdatedAt, &d.LastPostAt, &d.IsPinned, &d.IsLocked, &d.ViewCount, &d.ReplyCount, &d.VoteScore)
	if err != nil {
		return nil, notFound(err)
	}
	d.AuthorName = "Unknown"
	if authorName.Valid && authorName.String != "" {
		d.AuthorName = authorName.String
	}
	d.AuthorRole = roleOf(authorRole.String)
	d.BoardName = "Unknown"
	if boardName.Valid {
		d.BoardName = boardName.String
	}
	return &d, nil
}

// GetThread returns a non-deleted thread by id
func (s *Store) GetThread(ctx context.Context, id uuid.UUID) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, s.db.Q(threadSelect+profileSelect("p")+`
FROM {schema}.forum_threads t
LEFT JOIN {schema}.profiles p ON p.id = t.author_id
WHERE t.id = $1 AND t.deleted = false;`), id)
	t, err := scanThread(row.Scan)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// CreateThread inserts a new thread into a board. ErrNotFound is returned if the board
// does not exist.
func (s *Store) CreateThread(ctx context.Context, boardID, authorID uuid.UUID, title, body string) (*Thread, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, s.db.Q(`INSERT INTO {schema}.forum_threads (board_id, author_id, title, content)
VALUES ($1, $2, $3, $4) RETURNING id;`), boardID, authorID, title, body).Scan(&id)
	if err != nil {
		if csql.IsForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	return s.GetThread(ctx, id)
}

// UpdateThreadFlags sets the pinned and locked flags of a thread. Nil values are left unchanged.
func (s *Store) UpdateThreadFlags(ctx context.Context, id uuid.UUID, pinned, locked *bool) (*Thread, error) {
	res, err := s.db.ExecContext(ctx, s.db.Q(`UPDATE {schema}.forum_threads
SET is_pinned = COALESCE($2, is_pinned), is_locked = COALESCE($3, is_locked), updated_at = now()
WHERE id = $1 AND deleted = false;`), id, pinned, locked)
	if err != nil {
		return nil, fmt.Errorf("update thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetThread(ctx, id)
}

const postSelect = `SELECT fp.id, fp.thread_id, fp.author_id, fp.parent_post_id, fp.content, fp.is_solution, fp.edited, fp.edited_at,
fp.deleted, fp.created_at, fp.updated_at,
COALESCE((SELECT sum(v.vote_value) FROM {schema}.forum_votes v WHERE v.post_id = fp.id), 0), `

func scanPost(scan func(dest ...interface{}) error) (*Post, error) {
	var p Post
	var author profileColumns
	err := scan(append([]interface{}{&p.ID, &p.ThreadID, &p.AuthorID, &p.ParentPostID, &p.Content, &p.IsSolution, &p.Edited, &p.EditedAt,
		&p.Deleted, &p.CreatedAt, &p.UpdatedAt, &p.VoteScore}, author.dest()...)...)
	if err != nil {
		return nil, err
	}
	p.Author = author.summary()
	return &p, nil
}

// ListPosts returns the non-deleted posts of a thread, oldest first
func (s *Store) ListPosts(ctx context.Context, threadID uuid.UUID) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Q(postSelect+profileSelect("p")+`
FROM {schema}.forum_posts fp
LEFT JOIN {schema}.profiles p ON p.id = fp.author_id
WHERE fp.thread_id = $1 AND fp.deleted = false
ORDER BY fp.created_at;`), threadID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()
	posts := []Post{}
	for rows.Next() {
		p, err := scanPost(rows.Scan)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// GetPost returns a post by id, including deleted ones
func (s *Store) GetPost(ctx context.Context, id uuid.UUID) (*Post, error) {
	row := s.db.QueryRowContext(ctx, s.db.Q(postSelect+profileSelect("p")+`
FROM {schema}.forum_posts fp
LEFT JOIN {schema}.profiles p ON p.id = fp.author_id
WHERE fp.id = $1;`), id)
	p, err := scanPost(row.Scan)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// CreatePost inserts a reply into a thread and bumps the thread's last activity.
// ErrNotFound is returned if the thread or the parent post do not exist.
func (s *Store) CreatePost(ctx context.Context, threadID, authorID uuid.UUID, body string, parentPostID *uuid.UUID) (*Post, error) {
	var id uuid.UUID
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, s.db.Q(`INSERT INTO {schema}.forum_posts (thread_id, author_id, content, parent_post_id)
VALUES ($1, $2, $3, $4) RETURNING id;`), threadID, authorID, body, parentPostID).Scan(&id)
		if err != nil {
			if csql.IsForeignKeyViolation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("insert post: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.db.Q(`UPDATE {schema}.forum_threads SET last_post_at = now() WHERE id = $1;`), threadID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetPost(ctx, id)
}

// UpdatePost changes the content of a post
func (s *Store) UpdatePost(ctx context.Context, id uuid.UUID, body string) (*Post, error) {
	res, err := s.db.ExecContext(ctx, s.db.Q(`UPDATE {schema}.forum_posts SET content = $2, edited = true, edited_at = now(), updated_at = now()
WHERE id = $1 AND deleted = false;`), id, body)
	if err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetPost(ctx, id)
}

// SoftDeletePost marks a post as deleted
func (s *Store) SoftDeletePost(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, s.db.Q(`UPDATE {schema}.forum_posts SET deleted = true, updated_at = now()
WHERE id = $1 AND deleted = false;`), id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// VoteThread records the vote of the user on a thread, replacing an earlier one
func (s *Store) VoteThread(ctx context.Context, threadID, userID uuid.UUID, value int) error {
	_, err := s.db.ExecContext(ctx, s.db.Q(`INSERT INTO {schema}.forum_votes (thread_id, user_id, vote_value)
VALUES ($1, $2, $3)
ON CONFLICT (thread_id, user_id) WHERE post_id IS NULL DO UPDATE SET vote_value = EXCLUDED.vote_value;`), threadID, userID, value)
	if csql.IsForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

// VotePost records the vote of the user on a post, replacing an earlier one
func (s *Store) VotePost(ctx context.Context, postID, userID uuid.UUID, value int) error {
	_, err := s.db.ExecContext(ctx, s.db.Q(`INSERT INTO {schema}.forum_votes (post_id, user_id, vote_value)
VALUES ($1, $2, $3)
ON CONFLICT (post_id, user_id) WHERE post_id IS NOT NULL DO UPDATE SET vote_value = EXCLUDED.vote_value;`), postID, userID, value)
	if csql.IsForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

// ToggleSolution unmarks the post if it is the solution of its thread. Otherwise it becomes
// the only solution of the thread. It returns whether the post is marked afterwards.
func (s *Store) ToggleSolution(ctx context.Context, postID uuid.UUID) (bool, error) {
	var marked bool
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var threadID uuid.UUID
		var isSolution bool
		err := tx.QueryRowContext(ctx, s.db.Q(`SELECT thread_id, is_solution FROM {schema}.forum_posts
WHERE id = $1 AND deleted = false FOR UPDATE;`), postID).Scan(&threadID, &isSolution)
		if err != nil {
			return notFound(err)
		}
		if isSolution {
			_, err = tx.ExecContext(ctx, s.db.Q(`UPDATE {schema}.forum_posts SET is_solution = false WHERE id = $1;`), postID)
			return err
		}
		_, err = tx.ExecContext(ctx, s.db.Q(`UPDATE {schema}.forum_posts SET is_solution = (id = $2)
WHERE thread_id = $1 AND (is_solution OR id = $2);`), threadID, postID)
		marked = err == nil
		return err
	})
	return marked, err
}

// ToggleBookmark removes the user's bookmark of the thread if there is one, otherwise it
// adds it. It returns whether the thread is bookmarked afterwards.
func (s *Store) ToggleBookmark(ctx context.Context, threadID, userID uuid.UUID) (bool, error) {
	var bookmarked bool
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var id uuid.UUID
		err := tx.QueryRowContext(ctx, s.db.Q(`DELETE FROM {schema}.forum_bookmarks WHERE thread_id = $1 AND user_id = $2 RETURNING id;`),
			threadID, userID).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("remove bookmark: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.db.Q(`INSERT INTO {schema}.forum_bookmarks (thread_id, user_id) VALUES ($1, $2);`), threadID, userID)
		if err != nil {
			if csql.IsForeignKeyViolation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("add bookmark: %w", err)
		}
		bookmarked = true
		return nil
	})
	return bookmarked, err
}

// ListBookmarks returns the bookmarks of the user, newest first
func (s *Store) ListBookmarks(ctx context.Context, userID uuid.UUID) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Q(`SELECT bm.id, bm.created_at, t.id, t.title, t.content, t.created_at, t.updated_at,
t.is_pinned, t.is_locked, t.views_count, b.id, b.name, `+profileSelect("p")+`
FROM {schema}.forum_bookmarks bm
JOIN {schema}.forum_threads t ON t.id = bm.thread_id
JOIN {schema}.forum_boards b ON b.id = t.board_id
LEFT JOIN {schema}.profiles p ON p.id = t.author_id
WHERE bm.user_id = $1
ORDER BY bm.created_at DESC;`), userID)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()
	bookmarks := []Bookmark{}
	for rows.Next() {
		var bm Bookmark
		var author profileColumns
		t := &bm.Thread
		err := rows.Scan(append([]interface{}{&bm.ID, &bm.CreatedAt, &t.ID, &t.Title, &t.Content, &t.CreatedAt, &t.UpdatedAt,
			&t.IsPinned, &t.IsLocked, &t.ViewsCount, &t.Board.ID, &t.Board.Name}, author.dest()...)...)
		if err != nil {
			return nil, err
		}
		t.Author = author.summary()
		bookmarks = append(bookmarks, bm)
	}
	return bookmarks, rows.Err()
}
