package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_OrdersAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_more.sql":  {Data: []byte("SELECT 2;")},
		"pg/001_init.sql":  {Data: []byte("SELECT 1;")},
		"pg/003_empty.sql": {Data: []byte("  \n")},
		"pg/README.md":     {Data: []byte("notes")},
	}

	got, err := load(fsys, "pg")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "001_init", got[0].Version)
	assert.Equal(t, "002_more", got[1].Version)
}

func TestEmbeddedSchemas(t *testing.T) {
	pg, err := load(PostgresFS, "postgres")
	require.NoError(t, err)
	require.NotEmpty(t, pg)
	assert.Contains(t, pg[0].SQL, "CREATE TABLE IF NOT EXISTS events")

	ch, err := load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.NotEmpty(t, ch)
	for _, m := range ch {
		assert.NoError(t, validateNoSemicolonInStrings(m.SQL), m.Version)
	}
	assert.Len(t, splitStatements(ch[0].SQL), 2)
}

func TestSplitStatements(t *testing.T) {
	sql := `
-- header comment
CREATE TABLE a (x Int32);

  -- indented comment
CREATE TABLE b (
    y String
);
`
	got := splitStatements(sql)
	require.Len(t, got, 2)
	assert.Equal(t, "CREATE TABLE a (x Int32)", got[0])
	assert.Contains(t, got[1], "y String")
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{"plain", "SELECT 1;", false},
		{"string without semicolon", "SELECT 'a';", false},
		{"escaped quote", "SELECT 'it''s';", false},
		{"semicolon in string", "SELECT 'a;b';", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateNoSemicolonInStrings(tt.sql)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/moonshot")
	require.NoError(t, err)
	assert.Equal(t, "moonshot", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)

	_, err = databaseFromDSN("clickhouse://localhost:9000/bad-name")
	assert.Error(t, err)
}
