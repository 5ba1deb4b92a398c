package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/choraleia/helpdesk/pkg/tools"
)

// maxItems bounds list, set and sorted set reads.
const maxItems = 50

var cacheLookupDef = tools.ToolDefinition{
	ID:          ToolIDCacheLookup,
	Name:        "Cache lookup",
	Description: "Read a cached customer value such as a shipment status or session by a single key.",
	Category:    tools.CategoryCustomerData,
	Params: map[string]*schema.ParameterInfo{
		"source": {Type: schema.String, Required: true, Desc: "Name of the cache source to read"},
		"key":    {Type: schema.String, Required: true, Desc: "Lookup value given by the customer, e.g. a tracking number"},
	},
	Available: func(tc *tools.ToolContext) bool { return len(tc.RedisSources()) > 0 },
	Describe: func(tc *tools.ToolContext) string {
		srcs := tc.RedisSources()
		parts := make([]string, 0, len(srcs))
		for _, s := range srcs {
			parts = append(parts, describeSource(s.Name, s.Description))
		}
		return "Sources: " + strings.Join(parts, "; ") + "."
	},
}

func NewCacheLookupTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(cacheLookupDef.Info(), func(ctx context.Context, input *LookupInput) (string, error) {
		key := strings.TrimSpace(input.Key)
		if key == "" {
			return "", fmt.Errorf("key is required")
		}
		// Keys never reach a pattern or a second segment of the keyspace.
		if strings.ContainsAny(key, "*?[]: \t\n") {
			return "", fmt.Errorf("invalid key %q", key)
		}
		src, err := tc.RedisSource(input.Source)
		if err != nil {
			return "", err
		}
		rdb := tc.RedisClient(src)
		fullKey := fmt.Sprintf(src.KeyPattern, key)

		kind, err := rdb.Type(ctx, fullKey).Result()
		if err != nil {
			return "", fmt.Errorf("command failed: %w", err)
		}

		var result any
		switch kind {
		case "none":
			return fmt.Sprintf("Key: %s\nResult: (nil)", fullKey), nil
		case "string":
			result, err = rdb.Get(ctx, fullKey).Result()
		case "hash":
			result, err = rdb.HGetAll(ctx, fullKey).Result()
		case "list":
			result, err = rdb.LRange(ctx, fullKey, 0, maxItems-1).Result()
		case "set":
			var members []string
			members, err = rdb.SRandMemberN(ctx, fullKey, maxItems).Result()
			sort.Strings(members)
			result = members
		case "zset":
			result, err = rdb.ZRange(ctx, fullKey, 0, maxItems-1).Result()
		default:
			return "", fmt.Errorf("unsupported value type %s", kind)
		}
		if err != nil {
			return "", fmt.Errorf("command failed: %w", err)
		}

		return fmt.Sprintf("Key: %s\nType: %s\nResult: %s", fullKey, kind, formatRedisResult(result)), nil
	})
}

// formatRedisResult formats Redis result for display
func formatRedisResult(result any) string {
	switch v := result.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case []string:
		items := make([]string, len(v))
		for i, item := range v {
			items[i] = formatRedisResult(item)
		}
		return fmt.Sprintf("[%s]", strings.Join(items, ", "))
	case nil:
		return "(nil)"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
