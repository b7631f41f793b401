package pagination

// Offset is the limit/offset window accepted by list endpoints.
type Offset struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

type PageInfo struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

// Normalize clamps the window into [1, maxLimit] and a non-negative offset.
func (o Offset) Normalize(defaultLimit, maxLimit int) Offset {
	if o.Limit <= 0 {
		o.Limit = defaultLimit
	}
	if maxLimit > 0 && o.Limit > maxLimit {
		o.Limit = maxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

func BuildPageInfo(o Offset, returned int, total int64) PageInfo {
	return PageInfo{
		Total:   total,
		Limit:   o.Limit,
		Offset:  o.Offset,
		HasMore: int64(o.Offset+returned) < total,
	}
}
