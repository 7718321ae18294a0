package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Dao is the query facade the application and tests use to read and write
// domain entities through one Session.
type Dao struct {
	session Session
}

// NewDao wraps a session in a query facade.
func NewDao(session Session) *Dao {
	return &Dao{session: session}
}

// Session exposes the underlying session, for callers that need to manage
// transaction boundaries themselves.
func (d *Dao) Session() Session {
	return d.session
}

// CreateUser inserts a new user and returns it with a generated ID.
func (d *Dao) CreateUser(ctx context.Context, githubLogin, displayName string) (*User, error) {
	u := &User{
		ID:          uuid.NewString(),
		GitHubLogin: githubLogin,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	err := d.session.Transact(ctx, func(tx DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, github_login, display_name, created_at) VALUES ($1, $2, $3, $4)`,
			u.ID, u.GitHubLogin, u.DisplayName, u.CreatedAt)
		return err
	})
	if err != nil {
		return nil, mapError(err, ErrDuplicate)
	}
	return u, nil
}

// GetUser fetches a user by ID.
func (d *Dao) GetUser(ctx context.Context, id string) (*User, error) {
	return d.scanUser(d.session.QueryRowContext(ctx,
		`SELECT id, github_login, display_name, created_at FROM users WHERE id = $1`, id))
}

// GetUserByLogin fetches a user by GitHub login.
func (d *Dao) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	return d.scanUser(d.session.QueryRowContext(ctx,
		`SELECT id, github_login, display_name, created_at FROM users WHERE github_login = $1`, login))
}

func (d *Dao) scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.GitHubLogin, &u.DisplayName, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// CreateChannel inserts a new channel owned by ownerID (may be empty).
func (d *Dao) CreateChannel(ctx context.Context, name, description string, private bool, ownerID string) (*Channel, error) {
	ch := &Channel{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Private:     private,
		OwnerID:     ownerID,
		CreatedAt:   time.Now().UTC(),
	}
	var owner any
	if ownerID != "" {
		owner = ownerID
	}
	err := d.session.Transact(ctx, func(tx DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO channels (id, name, description, private, owner_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			ch.ID, ch.Name, ch.Description, ch.Private, owner, ch.CreatedAt)
		return err
	})
	if err != nil {
		return nil, mapError(err, ErrChannelExists)
	}
	return ch, nil
}

// GetChannel fetches a channel by name.
func (d *Dao) GetChannel(ctx context.Context, name string) (*Channel, error) {
	row := d.session.QueryRowContext(ctx,
		`SELECT id, name, description, private, package_count, COALESCE(owner_id, ''), created_at
		 FROM channels WHERE name = $1`, name)
	var ch Channel
	if err := row.Scan(&ch.ID, &ch.Name, &ch.Description, &ch.Private, &ch.PackageCount, &ch.OwnerID, &ch.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	return &ch, nil
}

// ListChannels returns all channels ordered by name.
func (d *Dao) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := d.session.QueryContext(ctx,
		`SELECT id, name, description, private, package_count, COALESCE(owner_id, ''), created_at
		 FROM channels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Description, &ch.Private, &ch.PackageCount, &ch.OwnerID, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// CreatePackage records a package version in the named channel.
func (d *Dao) CreatePackage(ctx context.Context, channelName, name, version, platform string) (*Package, error) {
	ch, err := d.GetChannel(ctx, channelName)
	if err != nil {
		return nil, err
	}
	if platform == "" {
		platform = "noarch"
	}
	p := &Package{
		ID:         uuid.NewString(),
		ChannelID:  ch.ID,
		Name:       name,
		Version:    version,
		Platform:   platform,
		UploadedAt: time.Now().UTC(),
	}
	err = d.session.Transact(ctx, func(tx DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO packages (id, channel_id, name, version, platform, uploaded_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, p.ChannelID, p.Name, p.Version, p.Platform, p.UploadedAt)
		return err
	})
	if err != nil {
		return nil, mapError(err, ErrPackageExists)
	}
	return p, nil
}

// ListPackages returns the packages of the named channel, newest first.
func (d *Dao) ListPackages(ctx context.Context, channelName string) ([]Package, error) {
	ch, err := d.GetChannel(ctx, channelName)
	if err != nil {
		return nil, err
	}
	rows, err := d.session.QueryContext(ctx,
		`SELECT id, channel_id, name, version, platform, uploaded_at
		 FROM packages WHERE channel_id = $1 ORDER BY uploaded_at DESC, name`, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var out []Package
	for rows.Next() {
		var p Package
		if err := rows.Scan(&p.ID, &p.ChannelID, &p.Name, &p.Version, &p.Platform, &p.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPackages returns the number of packages stored for a channel ID.
func (d *Dao) CountPackages(ctx context.Context, channelID string) (int64, error) {
	var n int64
	err := d.session.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM packages WHERE channel_id = $1`, channelID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count packages: %w", err)
	}
	return n, nil
}

// RefreshPackageCounts recomputes the cached package_count on every channel.
func (d *Dao) RefreshPackageCounts(ctx context.Context) error {
	return d.session.Transact(ctx, func(tx DBTX) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE channels SET package_count =
			   (SELECT COUNT(*) FROM packages WHERE packages.channel_id = channels.id)`)
		return err
	})
}
