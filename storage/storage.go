package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrDuplicateLinkage is returned when either side of a linkage is already linked.
var ErrDuplicateLinkage = errors.New("duplicate linkage")

// Linkage ties a channel post to its discussion thread in the group.
type Linkage struct {
	ID               int64
	ChannelMessageID int
	ThreadMessageID  int
	CommentCount     int
}

// EmojiAssignment is the glyph pair shown on a channel post's reaction buttons.
type EmojiAssignment struct {
	ChannelMessageID int
	First            string
	Second           string
}

// Totals aggregates the whole store for reporting.
type Totals struct {
	Linkages  int
	Comments  int
	Reactions map[string]int
}

// DB wraps the SQLite database connection and provides storage operations.
// It is safe for concurrent use: the pool is pinned to a single connection,
// so statements from concurrent handlers are serialized by database/sql.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.Migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS reactions (
		id          INTEGER NOT NULL CONSTRAINT reactions_pk PRIMARY KEY AUTOINCREMENT,
		message_id  INTEGER NOT NULL,
		telegram_id VARCHAR NOT NULL,
		type        VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS reactions_message_id_type_index ON reactions (message_id, type)`,
	`CREATE INDEX IF NOT EXISTS reactions_message_id_type_telegram_id_index ON reactions (message_id, type, telegram_id)`,

	`CREATE TABLE IF NOT EXISTS comments (
		id                 INTEGER NOT NULL CONSTRAINT comments_pk PRIMARY KEY AUTOINCREMENT,
		channel_message_id INTEGER NOT NULL,
		thread_message_id  INTEGER NOT NULL,
		cnt                INTEGER DEFAULT 0 NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS comments_channel_message_id_index ON comments (channel_message_id)`,
	`CREATE INDEX IF NOT EXISTS comments_thread_message_id_index ON comments (thread_message_id)`,

	`CREATE TABLE IF NOT EXISTS emoji_list (
		id                 INTEGER NOT NULL CONSTRAINT emoji_list_pk PRIMARY KEY AUTOINCREMENT,
		channel_message_id INTEGER NOT NULL,
		first_reaction     VARCHAR,
		second_reaction    VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS emoji_list_channel_message_id_index ON emoji_list (channel_message_id)`,
}

// Migrate creates tables and indexes that do not exist yet and adds columns
// missing from older files. It is safe to call on every start.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	// Files written by the first release declared first_reaction and
	// second_reaction without a separating comma, leaving a single column.
	cols, err := db.columns(ctx, "emoji_list")
	if err != nil {
		return err
	}
	if !cols["second_reaction"] {
		if _, err := db.conn.ExecContext(ctx, `ALTER TABLE emoji_list ADD COLUMN second_reaction VARCHAR`); err != nil {
			return fmt.Errorf("add emoji_list.second_reaction: %w", err)
		}
	}
	return nil
}

// columns returns the column names of table.
func (db *DB) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("inspect %s: %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// HasReaction reports whether the user already left a reaction of this type
// on the message.
func (db *DB) HasReaction(ctx context.Context, userID int64, messageID int, reactionType string) (bool, error) {
	query := `SELECT 1 FROM reactions WHERE message_id = ? AND type = ? AND telegram_id = ? LIMIT 1`
	var dummy int
	err := db.conn.QueryRowContext(ctx, query, messageID, reactionType, userID).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertReaction records a reaction. The existence check and the insert run
// as one statement, so concurrent duplicates collapse into a single row; the
// returned flag is false when the row already existed.
func (db *DB) InsertReaction(ctx context.Context, userID int64, messageID int, reactionType string) (bool, error) {
	query := `
	INSERT INTO reactions (message_id, type, telegram_id)
	SELECT ?, ?, ?
	WHERE NOT EXISTS (
		SELECT 1 FROM reactions WHERE message_id = ? AND type = ? AND telegram_id = ?
	)
	`
	res, err := db.conn.ExecContext(ctx, query,
		messageID, reactionType, userID,
		messageID, reactionType, userID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountReactions returns how many reactions of the given type a message has.
func (db *DB) CountReactions(ctx context.Context, messageID int, reactionType string) (int, error) {
	query := `SELECT COUNT(*) FROM reactions WHERE message_id = ? AND type = ?`
	var count int
	err := db.conn.QueryRowContext(ctx, query, messageID, reactionType).Scan(&count)
	return count, err
}

// InsertLinkage links a channel post to its thread with a zero comment count.
func (db *DB) InsertLinkage(ctx context.Context, channelMessageID, threadMessageID int) error {
	query := `
	INSERT INTO comments (channel_message_id, thread_message_id, cnt)
	SELECT ?, ?, 0
	WHERE NOT EXISTS (
		SELECT 1 FROM comments WHERE channel_message_id = ? OR thread_message_id = ?
	)
	`
	res, err := db.conn.ExecContext(ctx, query,
		channelMessageID, threadMessageID,
		channelMessageID, threadMessageID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: channel message %d, thread %d", ErrDuplicateLinkage, channelMessageID, threadMessageID)
	}
	return nil
}

// ChannelMessageID looks up the channel post linked to a thread.
func (db *DB) ChannelMessageID(ctx context.Context, threadMessageID int) (int, bool, error) {
	return db.lookupInt(ctx,
		`SELECT channel_message_id FROM comments WHERE thread_message_id = ?`, threadMessageID)
}

// ThreadMessageID looks up the thread linked to a channel post.
func (db *DB) ThreadMessageID(ctx context.Context, channelMessageID int) (int, bool, error) {
	return db.lookupInt(ctx,
		`SELECT thread_message_id FROM comments WHERE channel_message_id = ?`, channelMessageID)
}

// CommentCount returns the number of replies counted for a channel post, or 0
// if the post is not linked.
func (db *DB) CommentCount(ctx context.Context, channelMessageID int) (int, error) {
	count, _, err := db.lookupInt(ctx,
		`SELECT cnt FROM comments WHERE channel_message_id = ?`, channelMessageID)
	return count, err
}

// IncrementCommentCount adds one reply to the thread's counter. The returned
// flag is false when no linkage matches the thread.
func (db *DB) IncrementCommentCount(ctx context.Context, threadMessageID int) (bool, error) {
	query := `UPDATE comments SET cnt = cnt + 1 WHERE thread_message_id = ?`
	res, err := db.conn.ExecContext(ctx, query, threadMessageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecentLinkages returns up to limit linkages, newest first.
func (db *DB) RecentLinkages(ctx context.Context, limit int) ([]Linkage, error) {
	query := `
	SELECT id, channel_message_id, thread_message_id, cnt
	FROM comments ORDER BY id DESC LIMIT ?
	`
	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []Linkage
	for rows.Next() {
		var l Linkage
		if err := rows.Scan(&l.ID, &l.ChannelMessageID, &l.ThreadMessageID, &l.CommentCount); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// InsertEmojiAssignment stores the glyph pair for a channel post. An existing
// assignment is never replaced; the returned flag is false in that case.
func (db *DB) InsertEmojiAssignment(ctx context.Context, channelMessageID int, first, second string) (bool, error) {
	query := `
	INSERT INTO emoji_list (channel_message_id, first_reaction, second_reaction)
	SELECT ?, ?, ?
	WHERE NOT EXISTS (SELECT 1 FROM emoji_list WHERE channel_message_id = ?)
	`
	res, err := db.conn.ExecContext(ctx, query, channelMessageID, first, second, channelMessageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// EmojiAssignment returns the glyph pair stored for a channel post.
func (db *DB) EmojiAssignment(ctx context.Context, channelMessageID int) (EmojiAssignment, bool, error) {
	query := `SELECT first_reaction, second_reaction FROM emoji_list WHERE channel_message_id = ?`
	var first, second sql.NullString
	err := db.conn.QueryRowContext(ctx, query, channelMessageID).Scan(&first, &second)
	if errors.Is(err, sql.ErrNoRows) {
		return EmojiAssignment{}, false, nil
	}
	if err != nil {
		return EmojiAssignment{}, false, err
	}
	return EmojiAssignment{
		ChannelMessageID: channelMessageID,
		First:            first.String,
		Second:           second.String,
	}, true, nil
}

// Totals counts linkages, comments and reactions per type across the store.
func (db *DB) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(cnt), 0) FROM comments`).Scan(&t.Linkages, &t.Comments)
	if err != nil {
		return Totals{}, fmt.Errorf("count comments: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT COALESCE(type, ''), COUNT(*) FROM reactions GROUP BY type`)
	if err != nil {
		return Totals{}, fmt.Errorf("count reactions: %w", err)
	}
	defer rows.Close()

	t.Reactions = make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return Totals{}, err
		}
		t.Reactions[typ] = n
	}
	return t, rows.Err()
}

func (db *DB) lookupInt(ctx context.Context, query string, arg any) (int, bool, error) {
	var v int
	err := db.conn.QueryRowContext(ctx, query, arg).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}
