package model

import "time"

// ItemMetrics holds durable per-item counters. Rows are mutated only through
// a locked read-modify-write in the consumer; counters never go below zero.
type ItemMetrics struct {
	ItemID           int64     `db:"item_id" json:"item_id"`
	LikeCount        int64     `db:"like_count" json:"like_count"`
	ViewCount        int64     `db:"view_count" json:"view_count"`
	SalesCount       int64     `db:"sales_count" json:"sales_count"`
	TotalSalesAmount float64   `db:"total_sales_amount" json:"total_sales_amount"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
