package model

// CatalogItem is the display projection the query service attaches to each
// ranking entry. Lookup is an external collaborator concern; entries whose
// item can no longer be resolved are dropped from the page, not errored.
type CatalogItem struct {
	ItemID int64   `db:"item_id" json:"item_id"`
	Name   string  `db:"name" json:"name"`
	Price  float64 `db:"price" json:"price"`
	Status string  `db:"status" json:"status"`
}
