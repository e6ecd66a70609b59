package notestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"go.vocdoni.io/spendnote/commitment"
	"go.vocdoni.io/spendnote/log"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its configuration in globals
var gooseMu sync.Mutex

// SQL stores the tree in a sqlite database.
type SQL struct {
	db *sql.DB
}

var _ Store = (*SQL)(nil)

// NewSQL opens (or creates) the sqlite database at path and runs pending
// migrations.
func NewSQL(path string) (*SQL, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite doesn't support multiple concurrent writers, a single
	// connection avoids "database is locked" errors.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := migrate(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &SQL{db: sqlDB}, nil
}

func migrate(sqlDB *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetLogger(log.GooseLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	goose.SetBaseFS(embedMigrations)
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// LoadAllLeaves implements commitment.Storage.
func (s *SQL) LoadAllLeaves(ctx context.Context) ([]commitment.Leaf, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT leaf_index, leaf_hash, wallet_address, nullifier, amount, timestamp
		FROM spend_notes ORDER BY leaf_index ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leaves []commitment.Leaf
	for rows.Next() {
		var (
			leaf                     commitment.Leaf
			hash, address, nullifier []byte
			amount                   string
		)
		if err := rows.Scan(&leaf.Index, &hash, &address, &nullifier, &amount, &leaf.Note.Timestamp); err != nil {
			return nil, err
		}
		leaf.Hash = common.BytesToHash(hash)
		leaf.Note.WalletAddress = common.BytesToAddress(address)
		leaf.Note.Nullifier = common.BytesToHash(nullifier)
		var ok bool
		if leaf.Note.Amount, ok = new(big.Int).SetString(amount, 10); !ok {
			return nil, fmt.Errorf("leaf %d has an invalid amount %q", leaf.Index, amount)
		}
		leaves = append(leaves, leaf)
	}
	return leaves, rows.Err()
}

// AppendLeaf implements commitment.Storage. The leaf and the root are
// inserted in a single transaction.
func (s *SQL) AppendLeaf(ctx context.Context, leaf commitment.Leaf, root commitment.Root) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO spend_notes
		(leaf_index, leaf_hash, wallet_address, nullifier, amount, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		leaf.Index, leaf.Hash.Bytes(), leaf.Note.WalletAddress.Bytes(),
		leaf.Note.Nullifier.Bytes(), leaf.Note.Amount.String(), leaf.Note.Timestamp,
	); err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: index %d hash %x", ErrConflict, leaf.Index, leaf.Hash)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO merkle_roots (root, leaf_count, timestamp) VALUES (?, ?, ?)`,
		root.Hash.Bytes(), root.LeafCount, root.Timestamp.UnixMilli(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestRoot returns the most recently inserted root.
func (s *SQL) LatestRoot(ctx context.Context) (*commitment.Root, error) {
	var (
		hash      []byte
		root      commitment.Root
		timestamp int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT root, leaf_count, timestamp FROM merkle_roots
		ORDER BY id DESC LIMIT 1`).Scan(&hash, &root.LeafCount, &timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	root.Hash = common.BytesToHash(hash)
	root.Timestamp = time.UnixMilli(timestamp)
	return &root, nil
}

// Close closes the sqlite database.
func (s *SQL) Close() error {
	return s.db.Close()
}
