package tools

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/choraleia/helpdesk/pkg/config"
	"github.com/choraleia/helpdesk/pkg/orchestrator"
	"github.com/redis/go-redis/v9"
)

// ErrSourceNotFound is returned for a source name that is not configured or
// not open to the calling organization.
var ErrSourceNotFound = errors.New("data source not found")

// connections holds the lazily opened source handles shared by all
// contexts derived from one root.
type connections struct {
	mu    sync.Mutex
	sql   map[string]*sql.DB
	redis map[string]*redis.Client
}

// ToolContext provides services and context needed by tools
type ToolContext struct {
	// Services
	Knowledge orchestrator.VectorSearch
	Sources   config.ToolsConfig

	// Conversation context
	OrganizationID string
	ConversationID string

	conns *connections
}

// NewToolContext creates a root context. knowledge may be nil.
func NewToolContext(knowledge orchestrator.VectorSearch, sources config.ToolsConfig) *ToolContext {
	return &ToolContext{
		Knowledge: knowledge,
		Sources:   sources,
		conns: &connections{
			sql:   make(map[string]*sql.DB),
			redis: make(map[string]*redis.Client),
		},
	}
}

// WithConversation returns a new context scoped to one conversation
func (c *ToolContext) WithConversation(orgID, conversationID string) *ToolContext {
	return &ToolContext{
		Knowledge:      c.Knowledge,
		Sources:        c.Sources,
		OrganizationID: orgID,
		ConversationID: conversationID,
		conns:          c.conns,
	}
}

func openTo(orgs []string, orgID string) bool {
	return len(orgs) == 0 || slices.Contains(orgs, orgID)
}

// SQLSources returns the SQL sources the context's organization may query.
func (c *ToolContext) SQLSources() []config.SQLSourceConfig {
	var out []config.SQLSourceConfig
	for _, s := range c.Sources.SQLSources {
		if c.OrganizationID == "" || openTo(s.Organizations, c.OrganizationID) {
			out = append(out, s)
		}
	}
	return out
}

// RedisSources returns the Redis sources the context's organization may query.
func (c *ToolContext) RedisSources() []config.RedisSourceConfig {
	var out []config.RedisSourceConfig
	for _, s := range c.Sources.RedisSources {
		if c.OrganizationID == "" || openTo(s.Organizations, c.OrganizationID) {
			out = append(out, s)
		}
	}
	return out
}

// SQLSource looks up a source by name for the context's organization.
func (c *ToolContext) SQLSource(name string) (config.SQLSourceConfig, error) {
	for _, s := range c.SQLSources() {
		if s.Name == name {
			return s, nil
		}
	}
	return config.SQLSourceConfig{}, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
}

// RedisSource looks up a source by name for the context's organization.
func (c *ToolContext) RedisSource(name string) (config.RedisSourceConfig, error) {
	for _, s := range c.RedisSources() {
		if s.Name == name {
			return s, nil
		}
	}
	return config.RedisSourceConfig{}, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
}

// SQLDB returns the pooled handle for src, opening it on first use.
// The driver must be registered by the caller's imports.
func (c *ToolContext) SQLDB(src config.SQLSourceConfig) (*sql.DB, error) {
	c.conns.mu.Lock()
	defer c.conns.mu.Unlock()
	if db, ok := c.conns.sql[src.Name]; ok {
		return db, nil
	}
	db, err := sql.Open(src.Driver, src.DSN)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", src.Name, err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)
	c.conns.sql[src.Name] = db
	return db, nil
}

// RedisClient returns the pooled client for src, creating it on first use.
func (c *ToolContext) RedisClient(src config.RedisSourceConfig) *redis.Client {
	c.conns.mu.Lock()
	defer c.conns.mu.Unlock()
	if rdb, ok := c.conns.redis[src.Name]; ok {
		return rdb
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        src.Addr,
		Password:    src.Password,
		DB:          src.DB,
		DialTimeout: 5 * time.Second,
	})
	c.conns.redis[src.Name] = rdb
	return rdb
}

// Close releases every opened source connection.
func (c *ToolContext) Close() error {
	c.conns.mu.Lock()
	defer c.conns.mu.Unlock()
	var errs []error
	for name, db := range c.conns.sql {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(c.conns.sql, name)
	}
	for name, rdb := range c.conns.redis {
		if err := rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(c.conns.redis, name)
	}
	return errors.Join(errs...)
}
