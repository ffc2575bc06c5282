package entity

// Filter transforms a value on the way into or out of the store (§4.6
// "filter hooks" — e.g. transparent compression or serialization of
// values the application layer wants stored as plain scalars). OnGet runs
// after a raw scalar is read back; OnPut runs before it is written.
type Filter struct {
	Name  string
	OnPut func(value interface{}) (interface{}, error)
	OnGet func(value interface{}) (interface{}, error)
}

func applyOnPut(filters []Filter, v interface{}) (interface{}, error) {
	var err error
	for _, f := range filters {
		if f.OnPut == nil {
			continue
		}
		v, err = f.OnPut(v)
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

func applyOnGet(filters []Filter, v interface{}) (interface{}, error) {
	// OnGet hooks run in reverse of OnPut so the last filter applied on
	// the way in is the first undone on the way out.
	var err error
	for i := len(filters) - 1; i >= 0; i-- {
		f := filters[i]
		if f.OnGet == nil {
			continue
		}
		v, err = f.OnGet(v)
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}
