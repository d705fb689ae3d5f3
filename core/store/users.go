package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/relabs-tech/kumii/core"
	"github.com/relabs-tech/kumii/core/access"
)

// roleOf returns the role named s. Unknown roles fall back to the user role.
func roleOf(s string) core.Role {
	if r := core.Role(s); r.Valid() {
		return r
	}
	return core.RoleUser
}

const profileColumnList = `id, email, full_name, avatar_url, role, company, bio, sector, location, reputation_score, verified, created_at`

func scanProfile(scan func(dest ...interface{}) error) (*Profile, error) {
	var p Profile
	var role string
	err := scan(&p.ID, &p.Email, &p.FullName, &p.AvatarURL, &role, &p.Company, &p.Bio, &p.Sector, &p.Location,
		&p.ReputationScore, &p.Verified, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Role = roleOf(role)
	return &p, nil
}

// GetProfile returns the profile of a user
func (s *Store) GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, s.db.Q(`SELECT `+profileColumnList+` FROM {schema}.profiles WHERE id = $1;`), id)
	p, err := scanProfile(row.Scan)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// SearchProfiles returns up to limit profiles whose full name or email contains q,
// ignoring case. The profile exclude is never returned.
func (s *Store) SearchProfiles(ctx context.Context, q string, exclude uuid.UUID, limit int) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Q(`SELECT `+profileColumnList+` FROM {schema}.profiles
WHERE (full_name ILIKE $1 OR email ILIKE $1) AND id <> $2
ORDER BY full_name NULLS LAST, email
LIMIT $3;`), "%"+escapeLike(q)+"%", exclude, limit)
	if err != nil {
		return nil, fmt.Errorf("search profiles: %w", err)
	}
	defer rows.Close()
	profiles := []Profile{}
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// ResolveMentions returns the profiles addressed by the mention tokens. A token matches
// a profile if it equals, ignoring case, the local part of the email or the full name
// with all whitespace removed. The profile exclude is never returned.
func (s *Store) ResolveMentions(ctx context.Context, tokens []string, exclude uuid.UUID) ([]Profile, error) {
	if len(tokens) == 0 {
		return []Profile{}, nil
	}
	lowered := make([]string, len(tokens))
	for i, t := range tokens {
		lowered[i] = strings.ToLower(t)
	}
	rows, err := s.db.QueryContext(ctx, s.db.Q(`SELECT `+profileColumnList+` FROM {schema}.profiles
WHERE id <> $2 AND (
lower(split_part(email, '@', 1)) = ANY($1::text[])
OR lower(regexp_replace(COALESCE(full_name, ''), '\s', '', 'g')) = ANY($1::text[])
)
ORDER BY email;`), pq.Array(lowered), exclude)
	if err != nil {
		return nil, fmt.Errorf("resolve mentions: %w", err)
	}
	defer rows.Close()
	profiles := []Profile{}
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// LoadAuthorization returns the authorization of a user from their profile, or nil if
// the user has no profile
func (s *Store) LoadAuthorization(ctx context.Context, userID uuid.UUID) (*access.Authorization, error) {
	var email, role string
	err := s.db.QueryRowContext(ctx, s.db.Q(`SELECT email, role FROM {schema}.profiles WHERE id = $1;`), userID).Scan(&email, &role)
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return &access.Authorization{UserID: userID, Email: email, Role: roleOf(role)}, nil
}
