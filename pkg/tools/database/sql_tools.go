// Package database provides customer data lookup tools backed by
// operator-configured MySQL, PostgreSQL, SQLite and Redis sources.
// The model picks a source and supplies a key; queries are fixed in config.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/choraleia/helpdesk/pkg/tools"
)

// Tool IDs
const (
	ToolIDRecordLookup tools.ToolID = "customer_record_lookup"
	ToolIDCacheLookup  tools.ToolID = "cache_lookup"
)

var recordLookupDef = tools.ToolDefinition{
	ID:          ToolIDRecordLookup,
	Name:        "Customer record lookup",
	Description: "Look up customer records such as orders, subscriptions or tickets by a single key.",
	Category:    tools.CategoryCustomerData,
	Params: map[string]*schema.ParameterInfo{
		"source": {Type: schema.String, Required: true, Desc: "Name of the data source to query"},
		"key":    {Type: schema.String, Required: true, Desc: "Lookup value given by the customer, e.g. an order number"},
	},
	Available: func(tc *tools.ToolContext) bool { return len(tc.SQLSources()) > 0 },
	Describe: func(tc *tools.ToolContext) string {
		srcs := tc.SQLSources()
		parts := make([]string, 0, len(srcs))
		for _, s := range srcs {
			parts = append(parts, describeSource(s.Name, s.Description))
		}
		return "Sources: " + strings.Join(parts, "; ") + "."
	},
}

func init() {
	tools.Register(recordLookupDef, NewRecordLookupTool)
	tools.Register(cacheLookupDef, NewCacheLookupTool)
}

func describeSource(name, desc string) string {
	if desc == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, desc)
}

type LookupInput struct {
	Source string `json:"source"`
	Key    string `json:"key"`
}

type RecordLookupOutput struct {
	Source    string           `json:"source"`
	Count     int              `json:"count"`
	Truncated bool             `json:"truncated,omitempty"`
	Rows      []map[string]any `json:"rows"`
}

func NewRecordLookupTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(recordLookupDef.Info(), func(ctx context.Context, input *LookupInput) (string, error) {
		key := strings.TrimSpace(input.Key)
		if key == "" {
			return "", fmt.Errorf("key is required")
		}
		src, err := tc.SQLSource(input.Source)
		if err != nil {
			return "", err
		}
		if !isReadOnly(src.Query) {
			return "", fmt.Errorf("source %s is not a read-only query", src.Name)
		}

		db, err := tc.SQLDB(src)
		if err != nil {
			return "", err
		}
		rows, err := db.QueryContext(ctx, src.Query, key)
		if err != nil {
			return "", fmt.Errorf("query failed: %w", err)
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			return "", fmt.Errorf("failed to get columns: %w", err)
		}

		out := RecordLookupOutput{Source: src.Name, Rows: make([]map[string]any, 0)}
		for rows.Next() {
			if len(out.Rows) >= src.MaxRows {
				out.Truncated = true
				break
			}
			values := make([]any, len(columns))
			valuePtrs := make([]any, len(columns))
			for i := range columns {
				valuePtrs[i] = &values[i]
			}
			if err := rows.Scan(valuePtrs...); err != nil {
				return "", fmt.Errorf("failed to scan row: %w", err)
			}

			row := make(map[string]any, len(columns))
			for i, col := range columns {
				if b, ok := values[i].([]byte); ok {
					row[col] = string(b)
				} else {
					row[col] = values[i]
				}
			}
			out.Rows = append(out.Rows, row)
		}
		if err := rows.Err(); err != nil {
			return "", fmt.Errorf("read rows: %w", err)
		}
		out.Count = len(out.Rows)

		data, err := json.Marshal(out)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
}

// isReadOnly accepts a single SELECT (or WITH ... SELECT) statement.
func isReadOnly(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	q = strings.TrimSuffix(q, ";")
	if strings.Contains(q, ";") {
		return false
	}
	return strings.HasPrefix(q, "SELECT") || strings.HasPrefix(q, "WITH")
}
