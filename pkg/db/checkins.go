package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrCheckinNotFound = errors.New("check-in not found")

// Checkin is the latest provisioning record for one device.
type Checkin struct {
	MAC          string
	Firmware     string
	IP           string
	CheckinCount int64
	FirstSeen    time.Time
	LastSeen     time.Time
}

// CheckinStore records and reads device check-ins.
type CheckinStore interface {
	Record(ctx context.Context, mac, firmware, ip string) error
	Get(ctx context.Context, mac string) (*Checkin, error)
	List(ctx context.Context) ([]*Checkin, error)
}

// Checkins returns a CheckinStore for this database.
func (db *DB) Checkins() CheckinStore {
	return &checkinStore{db: db}
}

type checkinStore struct {
	db *DB
}

func (s *checkinStore) Record(ctx context.Context, mac, firmware, ip string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkins (mac, firmware, ip)
		VALUES (?, ?, ?)
		ON CONFLICT(mac) DO UPDATE SET
			firmware = excluded.firmware,
			ip = excluded.ip,
			checkin_count = checkin_count + 1,
			last_seen = datetime('now')
	`, mac, firmware, ip)
	return err
}

func (s *checkinStore) Get(ctx context.Context, mac string) (*Checkin, error) {
	c := &Checkin{}
	var firstSeen, lastSeen string
	err := s.db.QueryRowContext(ctx, `
		SELECT mac, firmware, ip, checkin_count, first_seen, last_seen
		FROM checkins WHERE mac = ?
	`, mac).Scan(&c.MAC, &c.Firmware, &c.IP, &c.CheckinCount, &firstSeen, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrCheckinNotFound
	}
	if err != nil {
		return nil, err
	}
	c.FirstSeen, _ = time.Parse(time.DateTime, firstSeen)
	c.LastSeen, _ = time.Parse(time.DateTime, lastSeen)
	return c, nil
}

func (s *checkinStore) List(ctx context.Context) ([]*Checkin, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mac, firmware, ip, checkin_count, first_seen, last_seen
		FROM checkins ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkins []*Checkin
	for rows.Next() {
		c := &Checkin{}
		var firstSeen, lastSeen string
		if err := rows.Scan(&c.MAC, &c.Firmware, &c.IP, &c.CheckinCount, &firstSeen, &lastSeen); err != nil {
			return nil, err
		}
		c.FirstSeen, _ = time.Parse(time.DateTime, firstSeen)
		c.LastSeen, _ = time.Parse(time.DateTime, lastSeen)
		checkins = append(checkins, c)
	}
	return checkins, rows.Err()
}
