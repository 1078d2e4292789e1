package warehouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Bootstrap idempotently creates the warehouse's database, event table, and
// the two materialized analytics views described in the warehouse sink's
// design notes. It mirrors the original BigQuery sink's create-if-missing
// dataset/table flow, translated to ClickHouse's engine and partitioning
// model.
func Bootstrap(ctx context.Context, conn driver.Conn, database, table string) error {
	if err := conn.Exec(ctx, fmt.Sprintf(
		`CREATE DATABASE IF NOT EXISTS %s`, database,
	)); err != nil {
		return fmt.Errorf("warehouse: create database: %w", err)
	}

	if err := conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			event_id            Int64,
			content_id          String,
			user_id             String,
			event_type          LowCardinality(String),
			event_ts            DateTime64(3),
			duration_ms         Nullable(Int64),
			device              Nullable(String),
			content_slug        String,
			content_title       String,
			content_type        LowCardinality(String),
			length_seconds      Nullable(Int64),
			engagement_seconds  Nullable(Float64),
			engagement_pct      Nullable(Float64),
			processed_at        DateTime64(3)
		)
		ENGINE = MergeTree
		PARTITION BY toDate(event_ts)
		ORDER BY (content_type, event_type, content_id)
	`, database, table)); err != nil {
		return fmt.Errorf("warehouse: create table: %w", err)
	}

	if err := conn.Exec(ctx, fmt.Sprintf(`
		CREATE MATERIALIZED VIEW IF NOT EXISTS %s.daily_engagement_summary
		ENGINE = SummingMergeTree
		PARTITION BY event_date
		ORDER BY (event_date, content_id, event_type)
		POPULATE
		AS SELECT
			toDate(event_ts) AS event_date,
			content_id,
			event_type,
			count() AS event_count,
			sum(engagement_seconds) AS total_engagement_seconds,
			avg(engagement_pct) AS avg_engagement_pct
		FROM %s.%s
		GROUP BY event_date, content_id, event_type
	`, database, database, table)); err != nil {
		return fmt.Errorf("warehouse: create daily_engagement_summary view: %w", err)
	}

	if err := conn.Exec(ctx, fmt.Sprintf(`
		CREATE MATERIALIZED VIEW IF NOT EXISTS %s.hourly_engagement_trends
		ENGINE = SummingMergeTree
		PARTITION BY toDate(event_hour)
		ORDER BY (event_hour, content_type)
		POPULATE
		AS SELECT
			toStartOfHour(event_ts) AS event_hour,
			content_type,
			count() AS event_count,
			uniqExact(user_id) AS unique_users
		FROM %s.%s
		GROUP BY event_hour, content_type
	`, database, database, table)); err != nil {
		return fmt.Errorf("warehouse: create hourly_engagement_trends view: %w", err)
	}

	return nil
}
