package booking

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hackgods/slot-booking-bot/internal/config"
	"github.com/hackgods/slot-booking-bot/internal/db"
)

// OpenRepository connects the store selected by cfg.StoreDriver and applies
// its schema. The returned func releases the connection.
func OpenRepository(ctx context.Context, cfg config.Config) (Repository, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresConns)
		if err != nil {
			return nil, nil, err
		}
		if err := db.MigratePostgres(pgCtx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Println("connected to Postgres")
		return NewPgRepository(pool), pool.Close, nil

	case config.StoreDriverSQLite:
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("opened SQLite database %s", cfg.SQLitePath)
		return NewSQLiteRepository(conn), func() {
			if err := conn.Close(); err != nil {
				log.Printf("error closing sqlite: %v", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
