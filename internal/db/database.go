package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Database is the persistent store for account records and the room
// directory. Live room state (logs, snapshots, documents) never lands
// here; rooms are memory-resident by design.
type Database struct {
	db *sql.DB
}

type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// RoomRecord is a directory entry: who created a room and when it was last
// touched. It is bookkeeping for the REST surface, not room state.
type RoomRecord struct {
	RoomID       string    `json:"roomId"`
	CreatorName  string    `json:"creatorName"`
	IsGuestRoom  bool      `json:"isGuestRoom"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

func New(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL keeps readers (stats, identity lookups) off the writers' backs.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS room_directory (
		room_id TEXT PRIMARY KEY,
		creator_name TEXT NOT NULL DEFAULT '',
		is_guest_room BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_activity DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_room_directory_last_activity
		ON room_directory(last_activity DESC);
	`
	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// User operations

func (d *Database) CreateUser(id, name, email string) error {
	_, err := d.db.Exec(
		"INSERT OR IGNORE INTO users (id, name, email) VALUES (?, ?, ?)",
		id, name, email,
	)
	return err
}

func (d *Database) GetUser(id string) (*User, error) {
	row := d.db.QueryRow(
		"SELECT id, name, email, created_at FROM users WHERE id = ?", id,
	)
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// DisplayName implements identity.AccountLookup.
func (d *Database) DisplayName(userID string) (string, bool) {
	var name string
	err := d.db.QueryRow("SELECT name FROM users WHERE id = ?", userID).Scan(&name)
	if err != nil {
		return "", false
	}
	return name, true
}

// Room directory operations

func (d *Database) CreateRoomRecord(roomID, creatorName string, isGuestRoom bool) error {
	_, err := d.db.Exec(
		"INSERT OR IGNORE INTO room_directory (room_id, creator_name, is_guest_room) VALUES (?, ?, ?)",
		roomID, creatorName, isGuestRoom,
	)
	return err
}

func (d *Database) GetRoomRecord(roomID string) (*RoomRecord, error) {
	row := d.db.QueryRow(
		"SELECT room_id, creator_name, is_guest_room, created_at, last_activity FROM room_directory WHERE room_id = ?",
		roomID,
	)
	var r RoomRecord
	err := row.Scan(&r.RoomID, &r.CreatorName, &r.IsGuestRoom, &r.CreatedAt, &r.LastActivity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (d *Database) TouchRoomRecord(roomID string) error {
	_, err := d.db.Exec(
		"UPDATE room_directory SET last_activity = CURRENT_TIMESTAMP WHERE room_id = ?",
		roomID,
	)
	return err
}

func (d *Database) DeleteRoomRecord(roomID string) error {
	_, err := d.db.Exec("DELETE FROM room_directory WHERE room_id = ?", roomID)
	return err
}

func (d *Database) ListRoomRecords(limit, offset int) ([]RoomRecord, error) {
	rows, err := d.db.Query(
		"SELECT room_id, creator_name, is_guest_room, created_at, last_activity FROM room_directory ORDER BY last_activity DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RoomRecord
	for rows.Next() {
		var r RoomRecord
		if err := rows.Scan(&r.RoomID, &r.CreatorName, &r.IsGuestRoom, &r.CreatedAt, &r.LastActivity); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats

func (d *Database) Stats() (map[string]int, error) {
	stats := make(map[string]int)

	var userCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&userCount); err != nil {
		return nil, err
	}
	stats["user_count"] = userCount

	var roomCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM room_directory").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount

	return stats, nil
}
