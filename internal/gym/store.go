package gym

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no gym or membership matches the lookup.
	ErrNotFound = errors.New("gym not found")
	// ErrDuplicateMembership is returned when the (user, gym) pair already
	// has a membership.
	ErrDuplicateMembership = errors.New("membership already exists")
)

const uniqueViolation = "23505"

// Store provides database operations for gyms and memberships.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new gym store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const gymColumns = `id, name, status, enrollment_code, auto_subscribe, created_at, updated_at`

func scanGym(scan func(dest ...any) error) (*Gym, error) {
	g := &Gym{}
	err := scan(&g.ID, &g.Name, &g.Status, &g.EnrollmentCode, &g.AutoSubscribe, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GenerateEnrollmentCode produces a short, admin-distributable join code.
func GenerateEnrollmentCode() (string, error) {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating enrollment code: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b), nil
}

// Create inserts a new gym in PENDING_APPROVAL status.
func (s *Store) Create(ctx context.Context, in CreateGymInput) (*Gym, error) {
	g, err := scanGym(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO gyms (name, status, enrollment_code, auto_subscribe)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+gymColumns,
			in.Name, StatusPendingApproval, in.EnrollmentCode, in.AutoSubscribe,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("creating gym: %w", err)
	}
	return g, nil
}

// GetByID retrieves a gym by primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Gym, error) {
	g, err := scanGym(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+gymColumns+` FROM gyms WHERE id = $1`, id,
		).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting gym by id: %w", err)
	}
	return g, nil
}

// GetByEnrollmentCode retrieves a gym by its join code.
func (s *Store) GetByEnrollmentCode(ctx context.Context, code string) (*Gym, error) {
	g, err := scanGym(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+gymColumns+` FROM gyms WHERE enrollment_code = $1`, code,
		).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting gym by enrollment code: %w", err)
	}
	return g, nil
}

// Update performs a partial settings update on the gym with the given id.
func (s *Store) Update(ctx context.Context, id string, in UpdateGymInput) (*Gym, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	if in.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *in.Name)
		argIdx++
	}
	if in.EnrollmentCode != nil {
		setClauses = append(setClauses, fmt.Sprintf("enrollment_code = $%d", argIdx))
		args = append(args, *in.EnrollmentCode)
		argIdx++
	}
	if in.AutoSubscribe != nil {
		setClauses = append(setClauses, fmt.Sprintf("auto_subscribe = $%d", argIdx))
		args = append(args, *in.AutoSubscribe)
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.GetByID(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE gyms SET %s WHERE id = $%d RETURNING `+gymColumns,
		strings.Join(setClauses, ", "), argIdx,
	)

	g, err := scanGym(func(dest ...any) error {
		return s.pool.QueryRow(ctx, query, args...).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating gym: %w", err)
	}
	return g, nil
}

// SetStatus transitions the gym's lifecycle status.
func (s *Store) SetStatus(ctx context.Context, id string, status GymStatus) (*Gym, error) {
	g, err := scanGym(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`UPDATE gyms SET status = $1, updated_at = now() WHERE id = $2
			 RETURNING `+gymColumns,
			status, id,
		).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("setting gym status: %w", err)
	}
	return g, nil
}

const membershipColumns = `user_id, gym_id, status, role, permissions, created_at, updated_at`

func scanMembership(scan func(dest ...any) error) (*Membership, error) {
	m := &Membership{}
	var perms []string
	err := scan(&m.UserID, &m.GymID, &m.Status, &m.Role, &perms, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Permissions = make(PermissionSet, 0, len(perms))
	for _, p := range perms {
		m.Permissions = append(m.Permissions, Permission(p))
	}
	return m, nil
}

func permStrings(ps PermissionSet) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, string(p))
	}
	return out
}

// CreateMembership inserts a membership for the (user, gym) pair.
func (s *Store) CreateMembership(ctx context.Context, userID, gymID string, status MembershipStatus, role TenantRole) (*Membership, error) {
	m, err := scanMembership(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO memberships (user_id, gym_id, status, role, permissions)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+membershipColumns,
			userID, gymID, status, role, []string{},
		).Scan(dest...)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateMembership
		}
		return nil, fmt.Errorf("creating membership: %w", err)
	}
	return m, nil
}

// GetMembership retrieves the membership for the (user, gym) pair.
func (s *Store) GetMembership(ctx context.Context, userID, gymID string) (*Membership, error) {
	m, err := scanMembership(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+membershipColumns+` FROM memberships
			 WHERE user_id = $1 AND gym_id = $2`,
			userID, gymID,
		).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting membership: %w", err)
	}
	return m, nil
}

// ListMemberships returns all memberships in a gym, newest first.
func (s *Store) ListMemberships(ctx context.Context, gymID string) ([]*Membership, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE gym_id = $1 ORDER BY created_at DESC, user_id DESC`,
		gymID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*Membership
	for rows.Next() {
		m, err := scanMembership(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning membership row: %w", err)
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// UpdateMembership performs a partial update on the (user, gym) membership.
// There is no delete: historical attribution requires the row to survive,
// so removal is modeled as status INACTIVE.
func (s *Store) UpdateMembership(ctx context.Context, userID, gymID string, in UpdateMembershipInput) (*Membership, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	if in.Status != nil {
		setClauses = append(setClauses, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *in.Status)
		argIdx++
	}
	if in.Role != nil {
		setClauses = append(setClauses, fmt.Sprintf("role = $%d", argIdx))
		args = append(args, *in.Role)
		argIdx++
	}
	if in.Permissions != nil {
		setClauses = append(setClauses, fmt.Sprintf("permissions = $%d", argIdx))
		args = append(args, permStrings(*in.Permissions))
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.GetMembership(ctx, userID, gymID)
	}

	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, userID, gymID)
	query := fmt.Sprintf(
		`UPDATE memberships SET %s WHERE user_id = $%d AND gym_id = $%d
		 RETURNING `+membershipColumns,
		strings.Join(setClauses, ", "), argIdx, argIdx+1,
	)

	m, err := scanMembership(func(dest ...any) error {
		return s.pool.QueryRow(ctx, query, args...).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating membership: %w", err)
	}
	return m, nil
}
