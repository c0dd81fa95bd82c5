package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"jamroom/internal/models"
	"jamroom/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func wrapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// User Repository Implementation

func (db *PostgresDB) CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (id, username, email, password_hash, notify_level, created_at)
		VALUES ($1, $2, $3, $4, 'medium', NOW())
		RETURNING id, username, email, notify_level, tracks_added, created_at`

	user := &models.User{PasswordHash: string(hash)}
	err = db.pool.QueryRow(ctx, query, uuid.New(), req.Username, req.Email, string(hash)).Scan(
		&user.ID, &user.Username, &user.Email, &user.NotifyLevel, &user.TracksAdded, &user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, username, email, password_hash, COALESCE(push_token, ''), notify_level, tracks_added, created_at
		FROM users WHERE email = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.PushToken, &user.NotifyLevel, &user.TracksAdded, &user.CreatedAt,
	)
	if err != nil {
		return nil, wrapNotFound(err)
	}

	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, username, email, COALESCE(push_token, ''), notify_level, tracks_added, created_at
		FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Email,
		&user.PushToken, &user.NotifyLevel, &user.TracksAdded, &user.CreatedAt,
	)
	if err != nil {
		return nil, wrapNotFound(err)
	}

	return user, nil
}

func (db *PostgresDB) IncrementTracksAdded(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `UPDATE users SET tracks_added = tracks_added + 1 WHERE id = $1`, id)
	return err
}

func (db *PostgresDB) UpdateNotifyPrefs(ctx context.Context, id uuid.UUID, level models.NotifyLevel, pushToken string) error {
	query := `UPDATE users SET notify_level = $2, push_token = NULLIF($3, '') WHERE id = $1`
	_, err := db.pool.Exec(ctx, query, id, level, pushToken)
	return err
}

// Session Repository Implementation

func (db *PostgresDB) CreateSession(ctx context.Context, req *models.CreateSessionRequest, hostID uuid.UUID, joinCode string) (*models.Session, error) {
	query := `
		INSERT INTO sessions (id, name, host_id, mode, is_public, is_live, join_code, created_at)
		VALUES ($1, $2, $3, $4, $5, true, $6, NOW())
		RETURNING id, name, host_id, mode, is_public, is_live, join_code, created_at`

	session := &models.Session{}
	err := db.pool.QueryRow(ctx, query, uuid.New(), req.Name, hostID, req.Mode, req.IsPublic, joinCode).Scan(
		&session.ID, &session.Name, &session.HostID, &session.Mode,
		&session.IsPublic, &session.IsLive, &session.JoinCode, &session.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

func (db *PostgresDB) GetSessionByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `
		SELECT id, name, host_id, mode, is_public, is_live, join_code, created_at
		FROM sessions WHERE id = $1`

	session := &models.Session{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&session.ID, &session.Name, &session.HostID, &session.Mode,
		&session.IsPublic, &session.IsLive, &session.JoinCode, &session.CreatedAt,
	)
	if err != nil {
		return nil, wrapNotFound(err)
	}

	return session, nil
}

func (db *PostgresDB) GetSessionByJoinCode(ctx context.Context, code string) (*models.Session, error) {
	query := `
		SELECT id, name, host_id, mode, is_public, is_live, join_code, created_at
		FROM sessions WHERE UPPER(join_code) = UPPER($1) AND is_live = true`

	session := &models.Session{}
	err := db.pool.QueryRow(ctx, query, strings.TrimSpace(code)).Scan(
		&session.ID, &session.Name, &session.HostID, &session.Mode,
		&session.IsPublic, &session.IsLive, &session.JoinCode, &session.CreatedAt,
	)
	if err != nil {
		return nil, wrapNotFound(err)
	}

	return session, nil
}

func (db *PostgresDB) ListPublicSessions(ctx context.Context, search string) ([]*models.Session, error) {
	query := `
		SELECT id, name, host_id, mode, is_public, is_live, join_code, created_at
		FROM sessions
		WHERE is_public = true AND is_live = true AND ($1 = '' OR name ILIKE '%' || $1 || '%')
		ORDER BY created_at DESC
		LIMIT 50`

	rows, err := db.pool.Query(ctx, query, strings.TrimSpace(search))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		if err := rows.Scan(
			&session.ID, &session.Name, &session.HostID, &session.Mode,
			&session.IsPublic, &session.IsLive, &session.JoinCode, &session.CreatedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

func (db *PostgresDB) UpdateSessionMode(ctx context.Context, id uuid.UUID, mode models.RoomMode) error {
	tag, err := db.pool.Exec(ctx, `UPDATE sessions SET mode = $2 WHERE id = $1`, id, mode)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgresDB) EndSession(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `UPDATE sessions SET is_live = false WHERE id = $1`, id)
	return err
}

// Queue Repository Implementation

const trackColumns = `
	id, session_id, title, artist, album, artwork_url, preview_url, duration_ms,
	provider, provider_id, added_by, added_by_name, voters, status, position, is_current, created_at`

func scanTrack(row pgx.Row) (*models.QueueTrack, error) {
	t := &models.QueueTrack{}
	var voters []byte
	err := row.Scan(
		&t.ID, &t.SessionID, &t.Title, &t.Artist, &t.Album, &t.ArtworkURL, &t.PreviewURL,
		&t.DurationMS, &t.Provider, &t.ProviderID, &t.AddedBy, &t.AddedByName,
		&voters, &t.Status, &t.Position, &t.IsCurrent, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Voters = make(map[string]int)
	if len(voters) > 0 {
		if err := json.Unmarshal(voters, &t.Voters); err != nil {
			return nil, fmt.Errorf("failed to decode voter map: %w", err)
		}
	}
	return t, nil
}

// AddTrack inserts the track and assigns the next position in the same
// statement: one past the session's current maximum, or zero if empty.
func (db *PostgresDB) AddTrack(ctx context.Context, track *models.QueueTrack) (*models.QueueTrack, error) {
	query := `
		INSERT INTO queue_tracks (
			id, session_id, title, artist, album, artwork_url, preview_url, duration_ms,
			provider, provider_id, added_by, added_by_name, voters, status, position, is_current, created_at
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '{}'::jsonb, $13,
			(SELECT COALESCE(MAX(position) + 1, 0) FROM queue_tracks WHERE session_id = $2),
			false, NOW()
		)
		RETURNING ` + trackColumns

	row := db.pool.QueryRow(ctx, query,
		track.ID, track.SessionID, track.Title, track.Artist, track.Album,
		track.ArtworkURL, track.PreviewURL, track.DurationMS,
		track.Provider, track.ProviderID, track.AddedBy, track.AddedByName, track.Status,
	)
	inserted, err := scanTrack(row)
	if err != nil {
		return nil, fmt.Errorf("failed to add track: %w", err)
	}
	return inserted, nil
}

func (db *PostgresDB) GetTrack(ctx context.Context, id uuid.UUID) (*models.QueueTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM queue_tracks WHERE id = $1`
	track, err := scanTrack(db.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return track, nil
}

func (db *PostgresDB) ListSessionTracks(ctx context.Context, sessionID uuid.UUID) ([]*models.QueueTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM queue_tracks WHERE session_id = $1 ORDER BY position`

	rows, err := db.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []*models.QueueTrack
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}

	return tracks, rows.Err()
}

func (db *PostgresDB) GetCurrentTrack(ctx context.Context, sessionID uuid.UUID) (*models.QueueTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM queue_tracks WHERE session_id = $1 AND is_current = true`
	track, err := scanTrack(db.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return track, nil
}

// SetCurrentTrack promotes one track, clearing any previous current row in
// the same transaction so at most one exists per session.
func (db *PostgresDB) SetCurrentTrack(ctx context.Context, sessionID, trackID uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE queue_tracks SET is_current = false WHERE session_id = $1 AND is_current = true`, sessionID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `UPDATE queue_tracks SET is_current = true WHERE id = $1 AND session_id = $2`, trackID, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

func (db *PostgresDB) UpdateTrackVotes(ctx context.Context, trackID uuid.UUID, voters map[string]int, total int) error {
	encoded, err := json.Marshal(voters)
	if err != nil {
		return fmt.Errorf("failed to encode voter map: %w", err)
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE queue_tracks SET voters = $2, votes = $3 WHERE id = $1`,
		trackID, encoded, total,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgresDB) ApproveTrack(ctx context.Context, trackID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `UPDATE queue_tracks SET status = 'approved' WHERE id = $1`, trackID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgresDB) DeleteTrack(ctx context.Context, trackID uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM queue_tracks WHERE id = $1`, trackID)
	return err
}

// Message Repository Implementation

func (db *PostgresDB) SaveMessage(ctx context.Context, msg *models.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (id, session_id, sender_id, sender_name, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := db.pool.Exec(ctx, query, msg.ID, msg.SessionID, msg.SenderID, msg.SenderName, msg.Body, msg.CreatedAt)
	return err
}

func (db *PostgresDB) LoadRecentMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.ChatMessage, error) {
	query := `
		SELECT id, session_id, sender_id, sender_name, body, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.ChatMessage
	for rows.Next() {
		msg := &models.ChatMessage{}
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.SenderID, &msg.SenderName, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// Membership Repository Implementation

func (db *PostgresDB) AddMembership(ctx context.Context, sessionID, userID uuid.UUID) error {
	query := `
		INSERT INTO memberships (session_id, user_id, joined_at) VALUES ($1, $2, NOW())
		ON CONFLICT (session_id, user_id) DO NOTHING`
	_, err := db.pool.Exec(ctx, query, sessionID, userID)
	return err
}

func (db *PostgresDB) RemoveMembership(ctx context.Context, sessionID, userID uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM memberships WHERE session_id = $1 AND user_id = $2`, sessionID, userID)
	return err
}

func (db *PostgresDB) IsMember(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM memberships WHERE session_id = $1 AND user_id = $2)`

	var exists bool
	err := db.pool.QueryRow(ctx, query, sessionID, userID).Scan(&exists)
	return exists, err
}

func (db *PostgresDB) GetSessionMembers(ctx context.Context, sessionID uuid.UUID) ([]*models.Member, error) {
	query := `
		SELECT u.id, u.username
		FROM memberships m
		JOIN users u ON m.user_id = u.id
		WHERE m.session_id = $1
		ORDER BY u.username`

	rows, err := db.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		member := &models.Member{}
		if err := rows.Scan(&member.ID, &member.Username); err != nil {
			return nil, err
		}
		members = append(members, member)
	}

	return members, rows.Err()
}

func (db *PostgresDB) GetMemberUsers(ctx context.Context, sessionID uuid.UUID) ([]*models.User, error) {
	query := `
		SELECT u.id, u.username, u.email, COALESCE(u.push_token, ''), u.notify_level, u.tracks_added, u.created_at
		FROM memberships m
		JOIN users u ON m.user_id = u.id
		WHERE m.session_id = $1`

	rows, err := db.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user := &models.User{}
		if err := rows.Scan(
			&user.ID, &user.Username, &user.Email,
			&user.PushToken, &user.NotifyLevel, &user.TracksAdded, &user.CreatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}
