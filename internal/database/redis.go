package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tarmsledger/tarms/internal/config"
)

// NewRedis creates the session store client. With a URL it parses it,
// connects, and pings to verify connectivity. Without one it starts an
// embedded in-process Redis, which keeps single-binary development setups
// working; sessions then do not survive a restart.
//
// The returned close function releases the client and, if started, the
// embedded server.
func NewRedis(cfg config.RedisConfig) (*redis.Client, func(), error) {
	if cfg.Embedded() {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("starting embedded redis: %w", err)
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		slog.Warn("using embedded redis; sessions are lost on restart",
			slog.String("addr", mr.Addr()),
		)
		return client, func() {
			client.Close()
			mr.Close()
		}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Verify the connection is alive before returning.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, func() { client.Close() }, nil
}
