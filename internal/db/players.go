package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PlayersDatabase stores the player registry and the message queue.
type PlayersDatabase struct {
	db *Database
}

// Player is a registry row.
type Player struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Online    bool      `json:"online"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Message is text queued for a player.
type Message struct {
	ID          int64      `json:"id"`
	PlayerID    uuid.UUID  `json:"player_id"`
	Text        string     `json:"text"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// NewPlayersDatabase opens the registry at dbPath and migrates the schema.
func NewPlayersDatabase(dbPath string) (*PlayersDatabase, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	pdb := &PlayersDatabase{db: database}
	if err := pdb.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate players database: %w", err)
	}
	return pdb, nil
}

// Close closes the underlying database.
func (p *PlayersDatabase) Close() error {
	return p.db.Close()
}

func (p *PlayersDatabase) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			online INTEGER NOT NULL DEFAULT 0,
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player_id TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			delivered_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_players_name ON players(name);
		CREATE INDEX IF NOT EXISTS idx_messages_pending ON messages(player_id, delivered_at);
	`
	_, err := p.db.Exec(ctx, schema)
	return err
}

// UpsertPlayer records a sighting of id. A non-empty name replaces the
// stored one.
func (p *PlayersDatabase) UpsertPlayer(ctx context.Context, id uuid.UUID, name string) error {
	now := time.Now().Unix()
	_, err := p.db.Exec(ctx, `
		INSERT INTO players (id, name, online, first_seen, last_seen)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE players.name END,
			last_seen = excluded.last_seen`,
		id.String(), name, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert player %s: %w", id, err)
	}
	return nil
}

// SetOnline marks a player online or offline, creating the row if needed.
func (p *PlayersDatabase) SetOnline(ctx context.Context, id uuid.UUID, online bool) error {
	if err := p.UpsertPlayer(ctx, id, ""); err != nil {
		return err
	}
	_, err := p.db.Exec(ctx, "UPDATE players SET online = ?, last_seen = ? WHERE id = ?",
		boolToInt(online), time.Now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to set online state of %s: %w", id, err)
	}
	return nil
}

// IsOnline reports whether the player is marked online. Unknown players are
// offline.
func (p *PlayersDatabase) IsOnline(ctx context.Context, id uuid.UUID) (bool, error) {
	var online int
	err := p.db.QueryRow(ctx, "SELECT online FROM players WHERE id = ?", id.String()).Scan(&online)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return online == 1, nil
}

// FindByName returns the id of the most recently seen player called name.
func (p *PlayersDatabase) FindByName(ctx context.Context, name string) (uuid.UUID, bool, error) {
	var raw string
	err := p.db.QueryRow(ctx,
		"SELECT id FROM players WHERE name = ? ORDER BY last_seen DESC LIMIT 1", name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt player id %q: %w", raw, err)
	}
	return id, true, nil
}

// ListPlayerIDs returns every registered id. onlineOnly limits the result to
// online players.
func (p *PlayersDatabase) ListPlayerIDs(ctx context.Context, onlineOnly bool) ([]uuid.UUID, error) {
	query := "SELECT id FROM players"
	if onlineOnly {
		query += " WHERE online = 1"
	}
	rows, err := p.db.Query(ctx, query+" ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			log.Warn().Str("id", raw).Msg("skipping player row with invalid id")
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListPlayers returns all registry rows, online players first.
func (p *PlayersDatabase) ListPlayers(ctx context.Context) ([]Player, error) {
	rows, err := p.db.Query(ctx,
		"SELECT id, name, online, first_seen, last_seen FROM players ORDER BY online DESC, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []Player
	for rows.Next() {
		var (
			raw                 string
			pl                  Player
			online              int
			firstSeen, lastSeen int64
		)
		if err := rows.Scan(&raw, &pl.Name, &online, &firstSeen, &lastSeen); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		pl.ID = id
		pl.Online = online == 1
		pl.FirstSeen = time.Unix(firstSeen, 0)
		pl.LastSeen = time.Unix(lastSeen, 0)
		players = append(players, pl)
	}
	return players, rows.Err()
}

// MarkAllOffline clears every online flag. The daemon cannot know who is
// online after a restart until the game server reports joins again.
func (p *PlayersDatabase) MarkAllOffline(ctx context.Context) error {
	_, err := p.db.Exec(ctx, "UPDATE players SET online = 0 WHERE online = 1")
	return err
}

// EnqueueMessage queues text for a player.
func (p *PlayersDatabase) EnqueueMessage(ctx context.Context, id uuid.UUID, text string) (int64, error) {
	res, err := p.db.Exec(ctx,
		"INSERT INTO messages (player_id, text, created_at) VALUES (?, ?, ?)",
		id.String(), text, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to queue message for %s: %w", id, err)
	}
	return res.LastInsertId()
}

// TakeMessages returns the pending messages of a player in order and marks
// them delivered.
func (p *PlayersDatabase) TakeMessages(ctx context.Context, id uuid.UUID) ([]Message, error) {
	var msgs []Message
	err := p.db.Transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT id, text, created_at FROM messages WHERE player_id = ? AND delivered_at IS NULL ORDER BY id",
			id.String())
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				m       Message
				created int64
			)
			if err := rows.Scan(&m.ID, &m.Text, &created); err != nil {
				rows.Close()
				return err
			}
			m.PlayerID = id
			m.CreatedAt = time.Unix(created, 0)
			msgs = append(msgs, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		now := time.Now()
		_, err = tx.ExecContext(ctx,
			"UPDATE messages SET delivered_at = ? WHERE player_id = ? AND delivered_at IS NULL AND id <= ?",
			now.Unix(), id.String(), msgs[len(msgs)-1].ID)
		if err != nil {
			return err
		}
		for i := range msgs {
			msgs[i].DeliveredAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take messages for %s: %w", id, err)
	}
	return msgs, nil
}

// PruneMessages deletes delivered messages older than maxAge.
func (p *PlayersDatabase) PruneMessages(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := p.db.Exec(ctx,
		"DELETE FROM messages WHERE delivered_at IS NOT NULL AND delivered_at <= ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
