package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dayuer/estatedesk/internal/listing"
	"github.com/dayuer/estatedesk/internal/session"
)

// SQLiteRepository implements Repository using SQLite. Times are stored as
// unix nanoseconds.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens dsn and runs migrations.
func NewSQLiteRepository(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to an in-memory database is its own database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	r := &SQLiteRepository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			user_id TEXT NOT NULL,
			user_info TEXT,
			created_at INTEGER NOT NULL,
			last_activity INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id)`,
		`CREATE TABLE IF NOT EXISTS listings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_message_id TEXT NOT NULL UNIQUE,
			raw_text TEXT NOT NULL,
			property_type TEXT NOT NULL,
			room_count INTEGER,
			price REAL,
			area TEXT,
			parsed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_parsed ON listings(parsed_at DESC, id DESC)`,
	}

	for _, m := range migrations {
		if _, err := r.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// SaveSession implements Repository.
func (r *SQLiteRepository) SaveSession(ctx context.Context, rec SessionRecord) error {
	var userInfo sql.NullString
	if len(rec.UserInfo) > 0 {
		data, err := json.Marshal(rec.UserInfo)
		if err != nil {
			return persistErr("save session", err)
		}
		userInfo = sql.NullString{String: string(data), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, channel, user_id, user_info, created_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_info = COALESCE(excluded.user_info, sessions.user_info),
			last_activity = excluded.last_activity`,
		rec.ID, rec.Channel, rec.UserID, userInfo, rec.CreatedAt.UnixNano(), rec.LastActivityAt.UnixNano())
	return persistErr("save session", err)
}

// SaveMessage implements Repository.
func (r *SQLiteRepository) SaveMessage(ctx context.Context, sessionID string, msg session.Message) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, sender, text, ts) VALUES (?, ?, ?, ?)`,
		sessionID, string(msg.Sender), msg.Text, msg.Timestamp.UnixNano())
	if err != nil {
		return 0, persistErr("save message", err)
	}
	id, err := res.LastInsertId()
	return id, persistErr("save message", err)
}

// SaveListing implements Repository.
func (r *SQLiteRepository) SaveListing(ctx context.Context, l listing.Listing) (int64, error) {
	if l.SourceMessageID == "" {
		return 0, persistErr("save listing", fmt.Errorf("empty source message id"))
	}
	if l.PropertyType == "" {
		l.PropertyType = listing.TypeUnknown
	}
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO listings (source_message_id, raw_text, property_type, room_count, price, area, parsed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_message_id) DO UPDATE SET
			raw_text = excluded.raw_text,
			property_type = excluded.property_type,
			room_count = excluded.room_count,
			price = excluded.price,
			area = excluded.area,
			parsed_at = excluded.parsed_at
		RETURNING id`,
		l.SourceMessageID, l.RawText, string(l.PropertyType),
		nullInt(l.RoomCount), nullFloat(l.Price), nullString(l.Area), l.ParsedAt.UnixNano(),
	).Scan(&id)
	return id, persistErr("save listing", err)
}

// QueryListings implements Repository.
func (r *SQLiteRepository) QueryListings(ctx context.Context, f listing.Filter) ([]listing.Listing, error) {
	query := `SELECT id, source_message_id, raw_text, property_type, room_count, price, area, parsed_at
		FROM listings WHERE 1=1`
	var args []any
	if f.PropertyType != "" {
		query += " AND property_type = ?"
		args = append(args, string(f.PropertyType))
	}
	if f.RoomCount != nil {
		query += " AND room_count = ?"
		args = append(args, *f.RoomCount)
	}
	if f.PriceMin != nil {
		query += " AND price >= ?"
		args = append(args, *f.PriceMin)
	}
	if f.PriceMax != nil {
		query += " AND price <= ?"
		args = append(args, *f.PriceMax)
	}
	query += " ORDER BY parsed_at DESC, id DESC LIMIT ?"
	args = append(args, PageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("query listings", err)
	}
	defer rows.Close()

	var out []listing.Listing
	for rows.Next() {
		var (
			l        listing.Listing
			typ      string
			rooms    sql.NullInt64
			price    sql.NullFloat64
			area     sql.NullString
			parsedAt int64
		)
		if err := rows.Scan(&l.ID, &l.SourceMessageID, &l.RawText, &typ, &rooms, &price, &area, &parsedAt); err != nil {
			return nil, persistErr("query listings", err)
		}
		l.PropertyType = listing.Type(typ)
		if rooms.Valid {
			l.RoomCount = listing.Int(int(rooms.Int64))
		}
		if price.Valid {
			l.Price = listing.Float(price.Float64)
		}
		if area.Valid {
			l.Area = listing.String(area.String)
		}
		l.ParsedAt = time.Unix(0, parsedAt).UTC()
		out = append(out, l)
	}
	return out, persistErr("query listings", rows.Err())
}

// SessionMessages implements Repository.
func (r *SQLiteRepository) SessionMessages(ctx context.Context, sessionID string) ([]StoredMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, sender, text, ts FROM messages WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, persistErr("session messages", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var (
			m      StoredMessage
			sender string
			ts     int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &sender, &m.Text, &ts); err != nil {
			return nil, persistErr("session messages", err)
		}
		m.Sender = session.Sender(sender)
		m.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, m)
	}
	return out, persistErr("session messages", rows.Err())
}

// Stats implements Repository.
func (r *SQLiteRepository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM sessions),
		(SELECT COUNT(*) FROM messages),
		(SELECT COUNT(*) FROM listings)`).Scan(&s.Sessions, &s.Messages, &s.Listings)
	return s, persistErr("stats", err)
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
