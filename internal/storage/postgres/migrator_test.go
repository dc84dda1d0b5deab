package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

// migrationFS собирает fstest.MapFS из пар "имя файла" -> SQL в каталоге миграций.
func migrationFS(files map[string]string) fstest.MapFS {
	fsys := make(fstest.MapFS, len(files))
	for name, body := range files {
		fsys["sql/migrations/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestLoadMigrationsSortsByVersion(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationFS(map[string]string{
		"0010_coupons.up.sql":   "CREATE TABLE coupons (code TEXT);",
		"0010_coupons.down.sql": "DROP TABLE coupons;",
		"0002_orders.up.sql":    "CREATE TABLE orders (id TEXT);",
		"0002_orders.down.sql":  "DROP TABLE orders;",
	}))
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	require.Equal(t, "0002_orders", migrations[0].String())
	require.Equal(t, "0010_coupons", migrations[1].String())
	require.Equal(t, "CREATE TABLE orders (id TEXT);", migrations[0].UpSQL)
	require.Equal(t, "DROP TABLE coupons;", migrations[1].DownSQL)
}

func TestLoadMigrationsRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "no files",
			files:   map[string]string{},
			wantErr: "no migration files found",
		},
		{
			name:    "missing down",
			files:   map[string]string{"0001_orders.up.sql": "SELECT 1;"},
			wantErr: "both up and down",
		},
		{
			name:    "bad file name",
			files:   map[string]string{"orders.sql": "SELECT 1;"},
			wantErr: "invalid migration file name",
		},
		{
			name: "blank body",
			files: map[string]string{
				"0001_orders.up.sql":   " \n\t",
				"0001_orders.down.sql": "DROP TABLE orders;",
			},
			wantErr: "migration file is empty",
		},
		{
			name: "name mismatch",
			files: map[string]string{
				"0001_orders.up.sql":  "SELECT 1;",
				"0001_carts.down.sql": "SELECT 1;",
			},
			wantErr: "name mismatch",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := loadMigrationsFromFS(migrationFS(tc.files))
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)

	names := make([]string, 0, len(migrations))
	for _, m := range migrations {
		names = append(names, m.String())
		require.NotEmpty(t, m.UpSQL)
		require.NotEmpty(t, m.DownSQL)
	}
	require.Equal(t, []string{
		"0001_orders",
		"0002_catalog_loyalty",
		"0003_promotions",
		"0004_webhook_retention",
		"0005_pricing",
	}, names)
}

func TestChecksumFollowsUpFileOnly(t *testing.T) {
	t.Parallel()

	load := func(up, down string) migration {
		t.Helper()
		migrations, err := loadMigrationsFromFS(migrationFS(map[string]string{
			"0001_orders.up.sql":   up,
			"0001_orders.down.sql": down,
		}))
		require.NoError(t, err)
		return migrations[0]
	}

	base := load("CREATE TABLE t (id INT);", "DROP TABLE t;")
	require.Len(t, base.Checksum, 64)
	require.Equal(t, base.Checksum, load("CREATE TABLE t (id INT);\n\n", "DROP TABLE IF EXISTS t;").Checksum)
	require.NotEqual(t, base.Checksum, load("CREATE TABLE t (id BIGINT);", "DROP TABLE t;").Checksum)
}

func TestVerifyChecksums(t *testing.T) {
	t.Parallel()

	migrations := []migration{
		{Version: 1, Name: "orders", Checksum: "aaa"},
		{Version: 2, Name: "catalog_loyalty", Checksum: "bbb"},
	}

	require.NoError(t, verifyChecksums(migrations, map[int64]appliedMigration{}))
	require.NoError(t, verifyChecksums(migrations, map[int64]appliedMigration{1: {checksum: "aaa"}, 2: {checksum: "bbb"}}))
	// записи без контрольной суммы не сверяются
	require.NoError(t, verifyChecksums(migrations, map[int64]appliedMigration{1: {}}))

	err := verifyChecksums(migrations, map[int64]appliedMigration{1: {checksum: "aaa"}, 2: {checksum: "zzz"}})
	require.ErrorIs(t, err, ErrMigrationDrift)
	require.ErrorContains(t, err, "0002_catalog_loyalty")
}
