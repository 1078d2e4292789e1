package warehouse

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// clickhouseConn adapts a real clickhouse-go driver.Conn to the narrower
// Conn interface this package depends on.
type clickhouseConn struct {
	conn driver.Conn
}

// WrapConn adapts a real ClickHouse connection for use as a Sink's Conn.
func WrapConn(conn driver.Conn) Conn {
	return clickhouseConn{conn: conn}
}

func (c clickhouseConn) PrepareBatch(ctx context.Context, query string) (Batch, error) {
	return c.conn.PrepareBatch(ctx, query)
}

func (c clickhouseConn) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}
