package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/choraleia/helpdesk/pkg/config"
	"github.com/choraleia/helpdesk/pkg/tools"
	_ "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrdersSource(t *testing.T) config.SQLSourceConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range []string{
		`CREATE TABLE orders (order_id TEXT, status TEXT, total INTEGER, note BLOB)`,
		`INSERT INTO orders VALUES ('A-100', 'shipped', 42, 'left at door'), ('A-100', 'refunded', 5, NULL), ('B-200', 'pending', 10, NULL)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return config.SQLSourceConfig{
		Name:        "orders",
		Description: "order status by order number",
		Driver:      "sqlite",
		DSN:         path,
		Query:       "SELECT order_id, status, total, note FROM orders WHERE order_id = ? ORDER BY status DESC",
		MaxRows:     20,
	}
}

func runLookup(t *testing.T, tc *tools.ToolContext, args string) (RecordLookupOutput, error) {
	t.Helper()
	out, err := NewRecordLookupTool(tc).InvokableRun(context.Background(), args)
	if err != nil {
		return RecordLookupOutput{}, err
	}
	var res RecordLookupOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	return res, nil
}

func TestRecordLookupReturnsRows(t *testing.T) {
	src := newOrdersSource(t)
	root := tools.NewToolContext(nil, config.ToolsConfig{SQLSources: []config.SQLSourceConfig{src}})
	t.Cleanup(func() { _ = root.Close() })

	res, err := runLookup(t, root.WithConversation("org-1", "c1"), `{"source":"orders","key":"A-100"}`)
	require.NoError(t, err)
	assert.Equal(t, "orders", res.Source)
	require.Equal(t, 2, res.Count)
	assert.False(t, res.Truncated)
	assert.Equal(t, "shipped", res.Rows[0]["status"])
	assert.Equal(t, "left at door", res.Rows[0]["note"])
	assert.EqualValues(t, 42, res.Rows[0]["total"])
	assert.Nil(t, res.Rows[1]["note"])

	res, err = runLookup(t, root.WithConversation("org-1", "c1"), `{"source":"orders","key":"Z-999"}`)
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.NotNil(t, res.Rows)
}

func TestRecordLookupTruncatesAtMaxRows(t *testing.T) {
	src := newOrdersSource(t)
	src.MaxRows = 1
	root := tools.NewToolContext(nil, config.ToolsConfig{SQLSources: []config.SQLSourceConfig{src}})
	t.Cleanup(func() { _ = root.Close() })

	res, err := runLookup(t, root, `{"source":"orders","key":"A-100"}`)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.True(t, res.Truncated)
}

func TestRecordLookupRejections(t *testing.T) {
	src := newOrdersSource(t)
	src.Organizations = []string{"org-1"}
	writer := src
	writer.Name = "wipe"
	writer.Query = "DELETE FROM orders WHERE order_id = ?"
	root := tools.NewToolContext(nil, config.ToolsConfig{SQLSources: []config.SQLSourceConfig{src, writer}})
	t.Cleanup(func() { _ = root.Close() })

	_, err := runLookup(t, root.WithConversation("org-2", "c1"), `{"source":"orders","key":"A-100"}`)
	assert.ErrorContains(t, err, "not found")

	_, err = runLookup(t, root.WithConversation("org-1", "c1"), `{"source":"orders","key":"  "}`)
	assert.ErrorContains(t, err, "key is required")

	_, err = runLookup(t, root.WithConversation("org-1", "c1"), `{"source":"wipe","key":"A-100"}`)
	assert.ErrorContains(t, err, "read-only")
}

func TestIsReadOnly(t *testing.T) {
	assert.True(t, isReadOnly("select * from orders where id = ?"))
	assert.True(t, isReadOnly("WITH o AS (SELECT 1) SELECT * FROM o;"))
	assert.False(t, isReadOnly("UPDATE orders SET status = 'x'"))
	assert.False(t, isReadOnly("SELECT 1; DROP TABLE orders"))
}
