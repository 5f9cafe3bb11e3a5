package query

// Prefetch describes a relation to load alongside the primary query.
// Query, when set, restricts which related records are loaded; only its
// WHERE conditions are used.
type Prefetch struct {
	Relation string
	Query    *QueryBuilder
}

// NewPrefetch creates a prefetch of relation restricted by restrict (may be nil)
func NewPrefetch(relation string, restrict *QueryBuilder) *Prefetch {
	return &Prefetch{Relation: relation, Query: restrict}
}
