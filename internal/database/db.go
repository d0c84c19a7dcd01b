// Package database persists peer credentials and session history in
// SQLite. The hot path never touches it; the server consults it only
// during connection admission.
package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

type DB struct {
	*sql.DB
}

func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &DB{db}, nil
}

func migrate(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS peers (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			token_hash TEXT NOT NULL,
			last_seen_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS session_logs (
			id TEXT PRIMARY KEY,
			peer_name TEXT NOT NULL,
			remote_addr TEXT,
			connected_at DATETIME,
			disconnected_at DATETIME,
			reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_logs_peer_name ON session_logs(peer_name);`,
		`CREATE INDEX IF NOT EXISTS idx_session_logs_created_at ON session_logs(created_at);`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// --- Peer Methods ---

type Peer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (db *DB) CreatePeer(name, token string) (*Peer, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	_, err = db.Exec("INSERT INTO peers (id, name, token_hash) VALUES (?, ?, ?)",
		id, name, string(hashed))
	if err != nil {
		return nil, err
	}

	return &Peer{ID: id, Name: name, CreatedAt: time.Now()}, nil
}

func (db *DB) AuthenticatePeer(name, token string) (*Peer, error) {
	var peer Peer
	var hash string
	err := db.QueryRow("SELECT id, name, token_hash, created_at FROM peers WHERE name = ?", name).Scan(
		&peer.ID, &peer.Name, &hash, &peer.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	return &peer, nil
}

// PeerExists checks if a peer name is registered.
func (db *DB) PeerExists(name string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM peers WHERE name = ?", name).Scan(&count)
	return err == nil && count > 0
}

// TouchPeer records that the peer connected.
func (db *DB) TouchPeer(name string) error {
	_, err := db.Exec("UPDATE peers SET last_seen_at = ? WHERE name = ?", time.Now(), name)
	return err
}

// DeletePeer revokes a peer's credentials.
func (db *DB) DeletePeer(name string) error {
	_, err := db.Exec("DELETE FROM peers WHERE name = ?", name)
	return err
}

// ListPeers returns all registered peers.
func (db *DB) ListPeers() ([]Peer, error) {
	rows, err := db.Query("SELECT id, name, created_at FROM peers ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []Peer
	for rows.Next() {
		var p Peer
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// --- Session Logging ---

// SessionLog records one connection lifetime.
type SessionLog struct {
	ID             string    `json:"id"`
	PeerName       string    `json:"peer_name"`
	RemoteAddr     string    `json:"remote_addr"`
	ConnectedAt    time.Time `json:"connected_at"`
	DisconnectedAt time.Time `json:"disconnected_at"`
	Reason         string    `json:"reason"`
}

// LogSession records a completed session.
func (db *DB) LogSession(log *SessionLog) {
	// Fire and forget (don't block)
	go func() {
		db.Exec(`INSERT INTO session_logs
			(id, peer_name, remote_addr, connected_at, disconnected_at, reason)
			VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), log.PeerName, log.RemoteAddr,
			log.ConnectedAt, log.DisconnectedAt, log.Reason)
	}()
}

// GetSessionLogs retrieves session history for a peer with pagination.
func (db *DB) GetSessionLogs(peerName string, limit, offset int) ([]SessionLog, error) {
	rows, err := db.Query(`
		SELECT id, peer_name,
		       COALESCE(remote_addr, '') as remote_addr,
		       connected_at, disconnected_at,
		       COALESCE(reason, '') as reason
		FROM session_logs
		WHERE peer_name = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, peerName, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []SessionLog
	for rows.Next() {
		var log SessionLog
		if err := rows.Scan(&log.ID, &log.PeerName, &log.RemoteAddr,
			&log.ConnectedAt, &log.DisconnectedAt, &log.Reason); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, nil
}
