// Package store implements the Postgres data access of the Kumii platform.
//
// All tables live in the schema of the csql.DB. They are created on start-up if
// requested, so a fresh database is usable right away.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/relabs-tech/kumii/core/csql"
	"github.com/relabs-tech/kumii/core/logger"
)

// ErrNotFound is returned when the requested row does not exist
var ErrNotFound = errors.New("not found")

// ErrAddParticipants is returned by CreateConversation when the participants could not be added
var ErrAddParticipants = errors.New("failed to add participants")

// Store gives access to the platform's data
type Store struct {
	db *csql.DB
}

// New returns a new store on db. If updateSchema is true, missing tables and indexes
// are created.
func New(db *csql.DB, updateSchema bool) (*Store, error) {
	s := &Store{db: db}
	if updateSchema {
		logger.Default().Infoln("update database schema", db.Schema)
		if _, err := db.Exec(db.Q(schemaDDL)); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return s, nil
}

// DB returns the underlying database
func (s *Store) DB() *csql.DB {
	return s.db
}

// Ping checks that the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// notFound maps sql.ErrNoRows to ErrNotFound
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// uuidArray converts ids into a parameter usable with = ANY($n::uuid[])
func uuidArray(ids []uuid.UUID) interface{} {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return pq.Array(strs)
}

// escapeLike escapes the LIKE wildcards in s
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// profileColumns scans the profile columns of a LEFT JOIN
type profileColumns struct {
	id        uuid.NullUUID
	email     sql.NullString
	fullName  sql.NullString
	avatarURL sql.NullString
	role      sql.NullString
	verified  sql.NullBool
}

// profileSelect returns the list of profile columns for the table alias
func profileSelect(alias string) string {
	return fmt.Sprintf("%[1]s.id, %[1]s.email, %[1]s.full_name, %[1]s.avatar_url, %[1]s.role, %[1]s.verified", alias)
}

func (p *profileColumns) dest() []interface{} {
	return []interface{}{&p.id, &p.email, &p.fullName, &p.avatarURL, &p.role, &p.verified}
}

// summary returns the scanned user without the email, or nil if the join had no match
func (p *profileColumns) summary() *UserSummary {
	if !p.id.Valid {
		return nil
	}
	u := &UserSummary{ID: p.id.UUID, Role: roleOf(p.role.String), Verified: p.verified.Bool}
	if p.fullName.Valid {
		name := p.fullName.String
		u.FullName = &name
	}
	if p.avatarURL.Valid {
		avatar := p.avatarURL.String
		u.AvatarURL = &avatar
	}
	return u
}

// summaryWithEmail returns the scanned user including the email
func (p *profileColumns) summaryWithEmail() *UserSummary {
	u := p.summary()
	if u != nil {
		u.Email = p.email.String
	}
	return u
}
