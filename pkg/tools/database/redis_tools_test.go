package database

import (
	"context"
	"os"
	"testing"

	"github.com/choraleia/helpdesk/pkg/config"
	"github.com/choraleia/helpdesk/pkg/tools"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRedisResult(t *testing.T) {
	assert.Equal(t, `"in transit"`, formatRedisResult("in transit"))
	assert.Equal(t, "7", formatRedisResult(int64(7)))
	assert.Equal(t, `["a", "b"]`, formatRedisResult([]string{"a", "b"}))
	assert.Equal(t, `{"eta":"Friday"}`, formatRedisResult(map[string]string{"eta": "Friday"}))
	assert.Equal(t, "(nil)", formatRedisResult(nil))
}

func TestCacheLookupRejectsPatternKeys(t *testing.T) {
	root := tools.NewToolContext(nil, config.ToolsConfig{RedisSources: []config.RedisSourceConfig{
		{Name: "shipments", Addr: "127.0.0.1:1", KeyPattern: "shipment:%s"},
	}})
	t.Cleanup(func() { _ = root.Close() })

	for _, key := range []string{"*", "a:b", "x?"} {
		_, err := NewCacheLookupTool(root).InvokableRun(context.Background(), `{"source":"shipments","key":"`+key+`"}`)
		assert.ErrorContains(t, err, "invalid key", key)
	}
}

// Needs a running server: HELPDESK_TEST_REDIS=localhost:6379
func TestCacheLookupAgainstRedis(t *testing.T) {
	addr := os.Getenv("HELPDESK_TEST_REDIS")
	if addr == "" {
		t.Skip("HELPDESK_TEST_REDIS not set")
	}
	prefix := "helpdesk-test-" + uuid.NewString()[:8] + ":"
	root := tools.NewToolContext(nil, config.ToolsConfig{RedisSources: []config.RedisSourceConfig{
		{Name: "shipments", Addr: addr, KeyPattern: prefix + "%s"},
	}})
	t.Cleanup(func() { _ = root.Close() })

	ctx := context.Background()
	src, err := root.RedisSource("shipments")
	require.NoError(t, err)
	rdb := root.RedisClient(src)
	require.NoError(t, rdb.HSet(ctx, prefix+"T1", "status", "in transit").Err())
	t.Cleanup(func() { rdb.Del(context.Background(), prefix+"T1") })

	out, err := NewCacheLookupTool(root).InvokableRun(ctx, `{"source":"shipments","key":"T1"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Type: hash")
	assert.Contains(t, out, `"status":"in transit"`)

	out, err = NewCacheLookupTool(root).InvokableRun(ctx, `{"source":"shipments","key":"missing"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "(nil)")
}
