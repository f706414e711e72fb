package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MembershipStore is the group-membership collaborator.
//
// ListGroupRooms is consulted exactly once per session, at connect time, to
// subscribe the session to its group rooms. IsMember backs the group-send
// authorization check.
type MembershipStore interface {
	// ListGroupRooms returns the ids of every group userID belongs to.
	ListGroupRooms(ctx context.Context, userID string) ([]string, error)

	// IsMember returns true if userID is an active member of groupID.
	IsMember(ctx context.Context, userID, groupID string) (bool, error)
}

// PostgresMembershipStore checks membership via relay.group_members.
type PostgresMembershipStore struct {
	pool   *pgxpool.Pool
	schema string
}

// MembershipOption configures PostgresMembershipStore behavior.
type MembershipOption func(*PostgresMembershipStore) error

// WithMembershipSchema sets the DB schema used by the membership store (default: "relay").
func WithMembershipSchema(schema string) MembershipOption {
	return func(s *PostgresMembershipStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresMembershipStore constructs a membership store backed by PostgreSQL.
func NewPostgresMembershipStore(pool *pgxpool.Pool, opts ...MembershipOption) (*PostgresMembershipStore, error) {
	st := &PostgresMembershipStore{
		pool:   pool,
		schema: "relay",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// ListGroupRooms returns the group ids userID belongs to.
func (s *PostgresMembershipStore) ListGroupRooms(ctx context.Context, userID string) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil membership store")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	members := pgIdent(s.schema, "group_members")

	rows, err := s.pool.Query(ctx,
		`SELECT group_id FROM `+members+` WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// IsMember checks if userID is a member of groupID.
func (s *PostgresMembershipStore) IsMember(ctx context.Context, userID, groupID string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("realtime: nil membership store")
	}
	userID = strings.TrimSpace(userID)
	groupID = strings.TrimSpace(groupID)
	if userID == "" || groupID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	members := pgIdent(s.schema, "group_members")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InMemoryMembership is a MembershipStore for dev and tests.
type InMemoryMembership struct {
	mu     sync.RWMutex
	groups map[string]map[string]struct{} // group id -> member set
}

// NewInMemoryMembership constructs an empty in-memory membership store.
func NewInMemoryMembership() *InMemoryMembership {
	return &InMemoryMembership{
		groups: make(map[string]map[string]struct{}),
	}
}

// Add registers userID as a member of groupID.
func (s *InMemoryMembership) Add(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.groups[groupID]
	if g == nil {
		g = make(map[string]struct{})
		s.groups[groupID] = g
	}
	g[userID] = struct{}{}
}

// ListGroupRooms returns the group ids userID belongs to.
func (s *InMemoryMembership) ListGroupRooms(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for gid, members := range s.groups {
		if _, ok := members[userID]; ok {
			out = append(out, gid)
		}
	}
	return out, nil
}

// IsMember checks if userID is a member of groupID.
func (s *InMemoryMembership) IsMember(_ context.Context, userID, groupID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := s.groups[groupID]
	if g == nil {
		return false, nil
	}
	_, ok := g[userID]
	return ok, nil
}
