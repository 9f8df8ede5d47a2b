// Package maildb stores named address groups in a sqlite database. Rule
// files refer to the groups by name (from:FRIENDS) and functions such as
// learn_addresses add to them.
package maildb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	mferrors "github.com/infodancer/mailfiler/errors"
	"github.com/infodancer/mailfiler/message"
)

const schema = `
CREATE TABLE IF NOT EXISTS address_groups (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS group_members (
	group_name TEXT NOT NULL REFERENCES address_groups(name) ON DELETE CASCADE,
	address TEXT NOT NULL,
	added_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (group_name, address)
);
CREATE INDEX IF NOT EXISTS idx_group_members_address ON group_members(address);
`

// DB is an address group database.
type DB struct {
	path   string
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// GroupInfo summarises one group.
type GroupInfo struct {
	Name    string
	Members int
}

// Open opens or creates the group database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path = filepath.Clean(strings.TrimSpace(path))
	if path == "" || path == "." {
		return nil, fmt.Errorf("%w: empty path", mferrors.ErrGroupDBUnavailable)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("%w: %v", mferrors.ErrGroupDBUnavailable, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mferrors.ErrGroupDBUnavailable, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		// WAL is an optimization only.
		logger.Warn("failed to set WAL journal mode", slog.String("path", path), slog.String("error", err.Error()))
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", mferrors.ErrGroupDBUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", mferrors.ErrGroupDBUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", mferrors.ErrGroupDBUnavailable, err)
	}

	logger.Debug("opened group database", slog.String("path", path))
	return &DB{path: path, db: db, logger: logger}, nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func groupKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ResolveGroup implements rules.GroupResolver. A group that was never
// created is an error; a created group may be empty.
func (d *DB) ResolveGroup(ctx context.Context, name string) ([]message.CoreAddress, error) {
	name = groupKey(name)
	var exists int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM address_groups WHERE name = ?`, name).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("lookup group %s: %w", name, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", mferrors.ErrUnknownGroup, strings.ToUpper(name))
	}
	return d.Members(ctx, name)
}

// Members lists the addresses in a group, sorted.
func (d *DB) Members(ctx context.Context, name string) ([]message.CoreAddress, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT address FROM group_members WHERE group_name = ? ORDER BY address`, groupKey(name))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []message.CoreAddress
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, message.CoreAddress(addr))
	}
	return out, rows.Err()
}

// Groups lists every group with its member count.
func (d *DB) Groups(ctx context.Context) ([]GroupInfo, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT g.name, COUNT(m.address)
		FROM address_groups g LEFT JOIN group_members m ON m.group_name = g.name
		GROUP BY g.name ORDER BY g.name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []GroupInfo
	for rows.Next() {
		var gi GroupInfo
		if err := rows.Scan(&gi.Name, &gi.Members); err != nil {
			return nil, err
		}
		out = append(out, gi)
	}
	return out, rows.Err()
}

// GroupsOf lists the groups an address belongs to.
func (d *DB) GroupsOf(ctx context.Context, addr message.CoreAddress) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT group_name FROM group_members WHERE address = ? ORDER BY group_name`, string(addr))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// LearnAddresses implements rules.GroupLearner: it creates the group if
// needed and adds addrs to it. Addresses already present are left alone.
func (d *DB) LearnAddresses(ctx context.Context, group string, addrs []message.CoreAddress) error {
	return d.AddToGroup(ctx, group, addrs...)
}

// AddToGroup creates group if needed and adds addrs to it.
func (d *DB) AddToGroup(ctx context.Context, group string, addrs ...message.CoreAddress) error {
	group = groupKey(group)
	if group == "" {
		return errors.New("empty group name")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO address_groups (name) VALUES (?)`, group); err != nil {
		return fmt.Errorf("create group %s: %w", group, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO group_members (group_name, address) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	added := 0
	for _, a := range addrs {
		a = message.NormalizeAddress(string(a))
		if a == "" {
			continue
		}
		res, err := stmt.ExecContext(ctx, group, string(a))
		if err != nil {
			return fmt.Errorf("add %s to %s: %w", a, group, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if added > 0 {
		d.logger.Info("learned addresses", slog.String("group", group), slog.Int("added", added))
	}
	return nil
}

// RemoveFromGroup removes addrs from group. Removing an address that is
// not a member is not an error.
func (d *DB) RemoveFromGroup(ctx context.Context, group string, addrs ...message.CoreAddress) error {
	group = groupKey(group)

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, a := range addrs {
		if _, err := d.db.ExecContext(ctx,
			`DELETE FROM group_members WHERE group_name = ? AND address = ?`,
			group, string(message.NormalizeAddress(string(a)))); err != nil {
			return fmt.Errorf("remove %s from %s: %w", a, group, err)
		}
	}
	return nil
}

// DeleteGroup removes a group and its members.
func (d *DB) DeleteGroup(ctx context.Context, group string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_name = ?`, groupKey(group)); err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx, `DELETE FROM address_groups WHERE name = ?`, groupKey(group))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", mferrors.ErrUnknownGroup, strings.ToUpper(groupKey(group)))
	}
	return nil
}
