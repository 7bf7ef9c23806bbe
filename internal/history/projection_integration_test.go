package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/clickhouse"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/require"
	tcClickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"go.uber.org/zap"

	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/model"
)

const clickhouseImage = "clickhouse/clickhouse-server:25.11"

func newTestBlock(txValue int64, lockingScript []byte) *model.Block {
	tx := model.NewTransaction(1, nil, []*model.TxOut{
		{Value: txValue, LockingScript: lockingScript, SpenderHeight: model.NotSpent},
	}, 0)
	return &model.Block{
		Header:       model.Header{Version: 1, Timestamp: time.Unix(1231006505, 0), Bits: 0x207fffff},
		Transactions: []*model.Transaction{tx},
	}
}

func TestProjectionCommitThenUndoCollapses(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := tcClickhouse.Run(ctx, clickhouseImage,
		tcClickhouse.WithUsername("default"),
		tcClickhouse.WithDatabase("default"),
	)
	require.NoError(t, err)
	defer func() { _ = container.Terminate(context.Background()) }()

	dsn, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	require.NoError(t, applyMigrationsUp(dsn))
	defer func() { _ = applyMigrationsDown(dsn) }()

	logger := zap.NewNop()
	p, err := New(dsn, logger)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	script := []byte{0x76, 0xa9, 0x14, 0x01, 0x02, 0x88, 0xac} // OP_DUP OP_HASH160 <push> OP_EQUALVERIFY OP_CHECKSIG
	blk := newTestBlock(5000, script)

	testCtx, testCancel := context.WithTimeout(context.Background(), time.Minute)
	defer testCancel()

	p.OnReorganize(chainerr.Success, 99, []*model.Block{blk}, nil)
	require.Eventually(t, func() bool {
		entries, err := p.FetchHistory(testCtx, script, 10, 0)
		return err == nil && len(entries) == 1
	}, 10*time.Second, 100*time.Millisecond)

	entries, err := p.FetchHistory(testCtx, script, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int32(100), entries[0].Height)
	require.Equal(t, int64(5000), entries[0].Value)

	// Undo the same block: the outgoing side writes sign=-1 for the same
	// key, and once ClickHouse collapses the pair FetchHistory's
	// sum(sign) > 0 filter drops it even before a merge runs, since the
	// query itself re-aggregates signs.
	p.OnReorganize(chainerr.Success, 99, nil, []*model.Block{blk})
	require.Eventually(t, func() bool {
		entries, err := p.FetchHistory(testCtx, script, 10, 0)
		return err == nil && len(entries) == 0
	}, 10*time.Second, 100*time.Millisecond)
}

func TestProjectionIgnoresNonSuccessCode(t *testing.T) {
	logger := zap.NewNop()
	p := &Projection{logger: logger}
	// A non-success code must never touch the (nil) connection.
	require.NotPanics(t, func() {
		p.OnReorganize(chainerr.InsufficientWork, 5, []*model.Block{newTestBlock(1, nil)}, nil)
	})
}

func applyMigrationsUp(dsn string) error {
	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = closeMigrator(m) }()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func applyMigrationsDown(dsn string) error {
	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = closeMigrator(m) }()
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

func newMigrator(dsn string) (*migrate.Migrate, error) {
	root, err := moduleRoot()
	if err != nil {
		return nil, err
	}
	sourceURL := fmt.Sprintf("file://%s", filepath.Join(root, "migrations", "clickhouse"))
	m, err := migrate.New(sourceURL, withMultiStatement(dsn))
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return m, nil
}

func withMultiStatement(dsn string) string {
	if strings.Contains(dsn, "x-multi-statement=") {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + "x-multi-statement=true"
}

func closeMigrator(m *migrate.Migrate) error {
	if m == nil {
		return nil
	}
	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		return fmt.Errorf("close migrator: source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("close migrator: database: %w", dbErr)
	}
	return nil
}

func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working dir: %w", err)
	}
	for {
		if _, statErr := os.Stat(filepath.Join(dir, "go.mod")); statErr == nil {
			return dir, nil
		}
		next := filepath.Dir(dir)
		if next == dir {
			return "", fmt.Errorf("go.mod not found from %s", dir)
		}
		dir = next
	}
}
