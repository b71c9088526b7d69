package dto

// FieldTotal is one dashboard card: the published total for a field with
// growth relative to the previous year.
type FieldTotal struct {
	Field         string   `json:"field"`
	Total         float64  `json:"total"`
	PreviousTotal float64  `json:"previousTotal"`
	GrowthPercent *float64 `json:"growthPercent,omitempty"`
}

// DashboardResponse aggregates the published ledger for display.
type DashboardResponse struct {
	Year       int          `json:"year"`
	Category   string       `json:"category,omitempty"`
	Location   string       `json:"location,omitempty"`
	Totals     []FieldTotal `json:"totals"`
	EntryCount int          `json:"entryCount"`
}
