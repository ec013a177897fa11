package model

import "time"

// DailySnapshotRow is one durable row of the end-of-day ranking snapshot,
// unique per (snapshot_date, item_id). Metric counters are copied in at
// snapshot time for auditability.
type DailySnapshotRow struct {
	ID           int64     `db:"id" json:"id"`
	SnapshotDate time.Time `db:"snapshot_date" json:"snapshot_date"`
	ItemID       int64     `db:"item_id" json:"item_id"`
	Score        float64   `db:"score" json:"score"`
	Rank         int       `db:"rank" json:"rank"`
	LikeCount    int64     `db:"like_count" json:"like_count"`
	ViewCount    int64     `db:"view_count" json:"view_count"`
	SalesCount   int64     `db:"sales_count" json:"sales_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// RollupRow is one durable weekly or monthly leaderboard entry, unique per
// (period, item_id). Period is "yyyyWww" for weeks and "yyyyMM" for months;
// Score is the mean daily score over the days the item appeared.
type RollupRow struct {
	ID          int64     `db:"id" json:"id"`
	Period      string    `db:"period" json:"period"`
	ItemID      int64     `db:"item_id" json:"item_id"`
	Score       float64   `db:"score" json:"score"`
	Rank        int       `db:"rank" json:"rank"`
	PeriodStart time.Time `db:"period_start" json:"period_start"`
	PeriodEnd   time.Time `db:"period_end" json:"period_end"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// EventFailure persists the context of a consumer give-up for operator
// inspection; writing it must never fail the caller.
type EventFailure struct {
	ID           int64     `db:"id" json:"id"`
	Topic        string    `db:"topic" json:"topic"`
	EventType    string    `db:"event_type" json:"event_type"`
	Payload      []byte    `db:"payload" json:"payload"`
	ErrorMessage string    `db:"error_message" json:"error_message"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
