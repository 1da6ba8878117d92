package utils

// FeedQuery 动态列表查询参数
type FeedQuery struct {
	Limit int `json:"limit" form:"limit"`
}

// PageLimit clamps the requested limit into [1, max], using def when unset.
func (q *FeedQuery) PageLimit(def, max int) int {
	if q.Limit <= 0 {
		q.Limit = def
	}
	if q.Limit > max {
		q.Limit = max
	}
	return q.Limit
}
