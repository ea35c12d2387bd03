package forwarder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/gaziuzay/gcslink"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const initTrackSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at INTEGER NOT NULL,
	port       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	t          INTEGER NOT NULL,
	lat        REAL NOT NULL,
	lon        REAL NOT NULL,
	alt_m      REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS positions_session ON positions(session_id, t);
`

const (
	insertTrackSessionSQL = `INSERT INTO sessions (started_at, port) VALUES (?, ?)`
	insertPositionSQL     = `INSERT INTO positions (session_id, t, lat, lon, alt_m) VALUES (?, ?, ?, ?, ?)`
	selectPositionsSQL    = `SELECT t, lat, lon, alt_m FROM positions WHERE session_id = ? ORDER BY rowid`
)

// TrackStore records every accepted position in a sqlite database, grouped
// by session. A session starts when the store is opened.
type TrackStore struct {
	db        *sql.DB
	insert    *sql.Stmt
	sessionID int64

	closeOnce sync.Once
	closeErr  error
}

func NewTrackStore(ctx context.Context, dbPath, port string) (*TrackStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
	if err != nil {
		return nil, errors.Wrap(err, "opening track database")
	}
	// one writer; also keeps :memory: databases on a single connection
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(ctx, initTrackSchemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "initializing track schema")
	}
	result, err := db.ExecContext(ctx, insertTrackSessionSQL, time.Now().UnixMilli(), port)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "inserting session")
	}
	sessionID, err := result.LastInsertId()
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "getting session ID")
	}
	insert, err := db.PrepareContext(ctx, insertPositionSQL)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "preparing statement")
	}
	return &TrackStore{db: db, insert: insert, sessionID: sessionID}, nil
}

func (s *TrackStore) Name() string {
	return "sqlite"
}

func (s *TrackStore) Kinds() []gcslink.SampleKind {
	return []gcslink.SampleKind{gcslink.KindPosition}
}

func (s *TrackStore) SessionID() int64 {
	return s.sessionID
}

func (s *TrackStore) Forward(sample gcslink.DerivedSample) error {
	pos, ok := sample.(gcslink.Position)
	if !ok {
		return nil
	}
	if _, err := s.insert.Exec(s.sessionID, pos.T.UnixMilli(), pos.Lat, pos.Lon, pos.AltM); err != nil {
		return errors.Wrap(err, "inserting position")
	}
	return nil
}

// Positions returns the positions of a session in arrival order.
func (s *TrackStore) Positions(ctx context.Context, sessionID int64) (positions []gcslink.Position, err error) {
	rows, err := s.db.QueryContext(ctx, selectPositionsSQL, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying positions")
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var (
			millis int64
			pos    gcslink.Position
		)
		if err = rows.Scan(&millis, &pos.Lat, &pos.Lon, &pos.AltM); err != nil {
			return nil, errors.Wrap(err, "scanning position")
		}
		pos.T = time.UnixMilli(millis)
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating positions")
	}
	return positions, nil
}

func (s *TrackStore) Close() error {
	s.closeOnce.Do(func() {
		if err := s.insert.Close(); err != nil {
			s.closeErr = err
		}
		if err := s.db.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}

func closeWithError(c interface{ Close() error }, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
