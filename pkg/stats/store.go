// Package stats persists command telemetry and node adverts in SQLite.
package stats

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"meshbot/pkg/mesh"
	"meshbot/pkg/placeholder"
)

//go:embed schema.sql
var schema string

// Node roles as advertised on the mesh.
const (
	RoleCompanion  = "companion"
	RoleRepeater   = "repeater"
	RoleRoomServer = "roomserver"
	RoleSensor     = "sensor"
)

// Node is one advertised mesh node.
type Node struct {
	PublicKey  string
	Name       string
	Role       string
	Latitude   float64
	Longitude  float64
	LastAdvert time.Time
}

// Store wraps the SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
	log *slog.Logger
}

// Open opens or creates the database at path. Use ":memory:" for a
// throwaway store.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure stats db: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init stats schema: %w", err)
	}

	log = log.With("component", "stats.store")
	log.Info("Stats database opened", "path", path)

	return &Store{db: db, now: time.Now, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordCommand stores one dispatch outcome. Failures are logged, never returned.
func (s *Store) RecordCommand(ctx context.Context, msg mesh.Message, commandName string, responseSent bool) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_stats (at, sender, channel, is_dm, command, response_sent) VALUES (?, ?, ?, ?, ?, ?)`,
		s.now().Unix(), msg.SenderID, msg.Channel, msg.IsDM, commandName, responseSent,
	)
	if err != nil {
		s.log.Warn("Failed to record command", "command", commandName, "error", err)
	}
}

// CaptureCommand stores the response a command produced.
func (s *Store) CaptureCommand(ctx context.Context, msg mesh.Message, commandName string, response string, success bool) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_captures (at, sender, channel, command, response, success) VALUES (?, ?, ?, ?, ?, ?)`,
		s.now().Unix(), msg.SenderID, msg.Channel, commandName, response, success,
	)
	if err != nil {
		s.log.Warn("Failed to capture command", "command", commandName, "error", err)
	}
}

// CommandCounts returns how many times each command was dispatched.
func (s *Store) CommandCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT command, COUNT(*) FROM command_stats GROUP BY command`)
	if err != nil {
		return nil, fmt.Errorf("query command counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			name  string
			count int
		)
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("scan command count: %w", err)
		}
		counts[name] = count
	}

	return counts, rows.Err()
}

// UpsertNode records an advert, keeping the first-seen time of known nodes.
func (s *Store) UpsertNode(ctx context.Context, node Node) error {
	key := strings.ToLower(strings.TrimSpace(node.PublicKey))
	if key == "" {
		return fmt.Errorf("upsert node: empty public key")
	}
	role := strings.ToLower(node.Role)
	if role == "" {
		role = RoleCompanion
	}
	advert := node.LastAdvert
	if advert.IsZero() {
		advert = s.now()
	}

	var lat, lon any
	if node.Latitude != 0 || node.Longitude != 0 {
		lat, lon = node.Latitude, node.Longitude
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (public_key, name, role, latitude, longitude, first_seen, last_advert)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(public_key) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			latitude = COALESCE(excluded.latitude, nodes.latitude),
			longitude = COALESCE(excluded.longitude, nodes.longitude),
			last_advert = excluded.last_advert`,
		key, node.Name, role, lat, lon, advert.Unix(), advert.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}

	return nil
}

// NodeLocation finds the freshest located repeater or room server whose
// public key starts with nodeID.
func (s *Store) NodeLocation(ctx context.Context, nodeID string) (placeholder.Location, bool) {
	row := s.db.QueryRowContext(ctx, `
		SELECT latitude, longitude FROM nodes
		WHERE public_key LIKE ?
		  AND latitude IS NOT NULL AND longitude IS NOT NULL
		  AND latitude != 0 AND longitude != 0
		  AND role IN ('repeater', 'roomserver')
		ORDER BY last_advert DESC
		LIMIT 1`,
		strings.ToLower(nodeID)+"%",
	)

	var loc placeholder.Location
	if err := row.Scan(&loc.Latitude, &loc.Longitude); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Debug("Node location lookup failed", "node", nodeID, "error", err)
		}
		return placeholder.Location{}, false
	}

	return loc, true
}

// MeshInfo returns the network counters scheduled messages can reference.
func (s *Store) MeshInfo(ctx context.Context) (map[string]int, error) {
	now := s.now()
	day := now.Add(-24 * time.Hour).Unix()
	week := now.Add(-7 * 24 * time.Hour).Unix()
	month := now.Add(-30 * 24 * time.Hour).Unix()

	rows, err := s.db.QueryContext(ctx, `
		SELECT role,
		       COUNT(*),
		       SUM(CASE WHEN first_seen >= ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN last_advert >= ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN last_advert >= ? THEN 1 ELSE 0 END)
		FROM nodes GROUP BY role`,
		week, month, day,
	)
	if err != nil {
		return nil, fmt.Errorf("query mesh info: %w", err)
	}
	defer rows.Close()

	plural := map[string]string{
		RoleCompanion:  "companions",
		RoleRepeater:   "repeaters",
		RoleRoomServer: "roomservers",
		RoleSensor:     "sensors",
	}

	info := make(map[string]int)
	for rows.Next() {
		var (
			role                        string
			total, fresh, seen30, daily int
		)
		if err := rows.Scan(&role, &total, &fresh, &seen30, &daily); err != nil {
			return nil, fmt.Errorf("scan mesh info: %w", err)
		}

		info["total_contacts"] += total
		info["total_contacts_30d"] += seen30
		info["recent_activity_24h"] += daily

		name, ok := plural[role]
		if !ok {
			continue
		}
		info["total_"+name] += total
		info["total_"+name+"_30d"] += seen30
		info["new_"+name+"_7d"] += fresh
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	info["repeaters"] = info["total_repeaters"]
	info["companions"] = info["total_companions"]

	return info, nil
}
