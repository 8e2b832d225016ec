package internal

// database/sql drivers for the watermill SQL and riverqueue publishers.
// The worker binary picks them up through this package as well.
import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)
