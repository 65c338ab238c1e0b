package model

import "encoding/json"

// SortDirection is ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortSpec orders a candidate list by a named property.
type SortSpec struct {
	Prop string        `json:"prop"`
	Dir  SortDirection `json:"dir"`
}

// Filter constrains a relationship's candidate pool (spec.md §3.3).
type Filter struct {
	Types []string `json:"types,omitempty"`
	Where *Where   `json:"where,omitempty"`
	Sort  []SortSpec `json:"sort,omitempty"`
	Limit *int     `json:"limit,omitempty"`
}

// filterWire accepts both the historical `{filter:{conditions:[...]}}` form
// and the current `{where:{...}}` form on read (spec.md §9 open question:
// "implementers should accept both on read and emit only the current form
// on write").
type filterWire struct {
	Types []string   `json:"types,omitempty"`
	Where *Where     `json:"where,omitempty"`
	Sort  []SortSpec `json:"sort,omitempty"`
	Limit *int       `json:"limit,omitempty"`

	// Historical shape.
	LegacyFilter *struct {
		Conditions []Where `json:"conditions,omitempty"`
	} `json:"filter,omitempty"`
}

// UnmarshalJSON implements the accept-both-forms read path.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var w filterWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	f.Types = w.Types
	f.Sort = w.Sort
	f.Limit = w.Limit
	switch {
	case w.Where != nil:
		f.Where = w.Where
	case w.LegacyFilter != nil && len(w.LegacyFilter.Conditions) > 0:
		if len(w.LegacyFilter.Conditions) == 1 {
			f.Where = &w.LegacyFilter.Conditions[0]
		} else {
			f.Where = &Where{Kind: WhereAll, Sub: w.LegacyFilter.Conditions}
		}
	}
	return nil
}

// MarshalJSON always emits the current `where` form.
func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(filterWire{
		Types: f.Types,
		Where: f.Where,
		Sort:  f.Sort,
		Limit: f.Limit,
	})
}

// Merge layers o (an instance-level override) over the receiver (the
// schema-level default), per spec.md §4.4 step 3: the instance's `where`
// replaces the default's if both are present; `types` defaults from the
// schema side when the override doesn't specify it.
func (f Filter) Merge(o Filter) Filter {
	merged := Filter{
		Types: f.Types,
		Where: f.Where,
		Sort:  f.Sort,
		Limit: f.Limit,
	}
	if len(o.Types) > 0 {
		merged.Types = o.Types
	}
	if o.Where != nil {
		merged.Where = o.Where
	}
	if len(o.Sort) > 0 {
		merged.Sort = o.Sort
	}
	if o.Limit != nil {
		merged.Limit = o.Limit
	}
	return merged
}

// PoolMode is the closed set of default-pool strategies (spec.md §3.3).
type PoolMode string

const (
	PoolAll    PoolMode = "all"
	PoolNone   PoolMode = "none"
	PoolFilter PoolMode = "filter"
)

// DefaultPool is the schema-level candidate-set specification for a
// relationship.
type DefaultPool struct {
	Mode   PoolMode `json:"mode"`
	Filter *Filter  `json:"filter,omitempty"`
}
