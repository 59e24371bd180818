package docbase

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/docbase/docbase.go/internal/codec"
	"github.com/docbase/docbase.go/internal/queue"
	"github.com/docbase/docbase.go/pkg/auth"
	"github.com/docbase/docbase.go/pkg/cache"
	"github.com/docbase/docbase.go/pkg/connection"
	"github.com/docbase/docbase.go/pkg/logger"
	"github.com/docbase/docbase.go/pkg/persistence"
	"github.com/docbase/docbase.go/pkg/remote"
	"github.com/docbase/docbase.go/pkg/txn"
)

// Config configures a Client.
type Config struct {
	// BaseURL of the backend, e.g. "wss://db.example.com".
	BaseURL string
	// DatabasePath is the project/database resource string attached to every
	// call, e.g. "projects/p/databases/d".
	DatabasePath string
	// Tokens supplies per-call credentials. Nil means unauthenticated.
	Tokens auth.TokenProvider
	// Logger defaults to a JSON slog handler on stdout.
	Logger logger.Logger
	// MaxAttempts bounds transaction retries; zero means the default.
	MaxAttempts int
	// RPCTimeout bounds waiting for unary responses; zero keeps the default.
	RPCTimeout time.Duration
}

// Client owns one logical database connection: the task queue, the local
// document cache and the transaction runner all hang off it.
type Client struct {
	config      Config
	queue       *queue.Queue
	persistence *persistence.MemoryPersistence
	cache       *cache.RemoteDocumentCache
	conn        connection.Connection
	runner      *txn.Runner
	logger      logger.Logger
}

// Option mutates a Client during New, before the connection is dialed.
type Option func(c *Client) error

// WithConnection substitutes the transport, mainly for tests.
func WithConnection(conn connection.Connection) Option {
	return func(c *Client) error {
		c.conn = conn
		return nil
	}
}

// New builds and connects a client.
func New(ctx context.Context, config Config, opts ...Option) (*Client, error) {
	log := config.Logger
	if log == nil {
		log = logger.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	tokens := config.Tokens
	if tokens == nil {
		tokens = auth.StaticTokenProvider{Token: auth.EmptyCredentials}
	}

	c := &Client{
		config:      config,
		queue:       queue.New(),
		persistence: persistence.NewMemoryPersistence(),
		cache:       cache.NewRemoteDocumentCache(),
		logger:      log,
	}
	c.cache.SetIndexManager(cache.MemoryIndexManager{})

	for _, opt := range opts {
		if err := opt(c); err != nil {
			c.queue.Close()
			return nil, err
		}
	}

	if c.conn == nil {
		ws := connection.NewWebSocketConnection(connection.NewConnectionParams{
			BaseURL:      config.BaseURL,
			DatabasePath: config.DatabasePath,
			Marshaler:    codec.CborMarshaler{},
			Unmarshaler:  codec.CborUnmarshaler{},
			Logger:       log,
		}, c.queue)
		if config.RPCTimeout > 0 {
			ws.Timeout = config.RPCTimeout
		}
		c.conn = ws
	}

	if err := c.conn.Connect(ctx); err != nil {
		c.queue.Close()
		return nil, err
	}

	c.runner = txn.NewRunner(remote.NewDatastore(c.conn, tokens), c.queue, log)
	if config.MaxAttempts > 0 {
		c.runner.MaxAttempts = config.MaxAttempts
	}

	return c, nil
}

// RunTransaction executes fn atomically against the backend, retrying
// commit conflicts up to the configured attempt limit.
func (c *Client) RunTransaction(ctx context.Context, fn func(t *txn.Transaction) error) error {
	return c.runner.Run(ctx, fn)
}

// Cache is the local remote-document cache.
func (c *Client) Cache() *cache.RemoteDocumentCache { return c.cache }

// Persistence is the local storage engine backing the cache.
func (c *Client) Persistence() *persistence.MemoryPersistence { return c.persistence }

// Connection is the underlying transport, shared with the sync engine.
func (c *Client) Connection() connection.Connection { return c.conn }

// Close shuts the transport and the task queue down. Pending queue tasks
// run to completion first.
func (c *Client) Close(ctx context.Context) error {
	err := c.conn.Close(ctx)
	c.queue.Drain()
	c.queue.Close()
	if perr := c.persistence.Close(); err == nil {
		err = perr
	}
	return err
}
