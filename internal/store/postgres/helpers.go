package postgres

// int64SliceToAny adapts a []int64 to the []any pgx's stdlib driver
// expects for a query built with sqlx.In (used by bulk id IN (...)
// updates).
func int64SliceToAny(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
