package internship

import (
	"sort"
	"strings"

	"gorm.io/gorm"

	"prashikshan/internal/database"
)

// Filter 描述岗位列表的筛选条件，零值字段表示不过滤。
type Filter struct {
	Domain       string
	LocationType string
	DurationMin  int
	DurationMax  int
	StipendMin   int
	Search       string
}

// Matches 判断单个岗位是否满足条件。
func (f Filter) Matches(in database.Internship) bool {
	if f.Domain != "" && in.Domain != f.Domain {
		return false
	}
	if f.LocationType != "" && in.LocationType != f.LocationType {
		return false
	}
	if f.DurationMin > 0 && in.DurationMonths < f.DurationMin {
		return false
	}
	if f.DurationMax > 0 && in.DurationMonths > f.DurationMax {
		return false
	}
	if f.StipendMin > 0 && in.StipendMin < f.StipendMin {
		return false
	}
	if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
		if !strings.Contains(strings.ToLower(in.Title), search) &&
			!strings.Contains(strings.ToLower(in.Description), search) {
			return false
		}
	}
	return true
}

// Apply 返回满足条件的岗位，保持原有顺序。
func Apply(list []database.Internship, f Filter) []database.Internship {
	out := make([]database.Internship, 0, len(list))
	for _, in := range list {
		if f.Matches(in) {
			out = append(out, in)
		}
	}
	return out
}

// Scope 把同样的条件下推到数据库查询。
func (f Filter) Scope() func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f.Domain != "" {
			db = db.Where("domain = ?", f.Domain)
		}
		if f.LocationType != "" {
			db = db.Where("location_type = ?", f.LocationType)
		}
		if f.DurationMin > 0 {
			db = db.Where("duration_months >= ?", f.DurationMin)
		}
		if f.DurationMax > 0 {
			db = db.Where("duration_months <= ?", f.DurationMax)
		}
		if f.StipendMin > 0 {
			db = db.Where("stipend_min >= ?", f.StipendMin)
		}
		if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
			like := "%" + escapeLike(search) + "%"
			db = db.Where("(LOWER(title) LIKE ? ESCAPE '\\' OR LOWER(description) LIKE ? ESCAPE '\\')", like, like)
		}
		return db
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SortKey 是岗位列表的排序方式。
type SortKey string

const (
	SortNewest   SortKey = "newest"
	SortStipend  SortKey = "stipend"
	SortDuration SortKey = "duration"
	SortDeadline SortKey = "deadline"
)

// ParseSortKey 未知值回退为 newest。
func ParseSortKey(value string) SortKey {
	switch k := SortKey(value); k {
	case SortStipend, SortDuration, SortDeadline:
		return k
	}
	return SortNewest
}

// OrderClause 返回与 Sort 一致的 SQL 排序。
func (k SortKey) OrderClause() string {
	switch k {
	case SortStipend:
		return "stipend_min DESC, created_at DESC"
	case SortDuration:
		return "duration_months ASC, created_at DESC"
	case SortDeadline:
		return "application_deadline ASC, created_at DESC"
	}
	return "created_at DESC"
}

// Sort 原地排序，稳定排序保证同值时顺序不变。
// deadline 排序时没有截止日期的岗位排在最后。
func Sort(list []database.Internship, key SortKey) {
	switch key {
	case SortStipend:
		sort.SliceStable(list, func(i, j int) bool { return list[i].StipendMin > list[j].StipendMin })
	case SortDuration:
		sort.SliceStable(list, func(i, j int) bool { return list[i].DurationMonths < list[j].DurationMonths })
	case SortDeadline:
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i].ApplicationDeadline, list[j].ApplicationDeadline
			switch {
			case a == nil:
				return false
			case b == nil:
				return true
			}
			return *a < *b
		})
	default:
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	}
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 50
)

// Page 描述分页参数与结果。
type Page struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

// NewPage 规范化页码与每页数量。
func NewPage(page, limit int) Page {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return Page{Page: page, Limit: limit}
}

// Offset 返回查询偏移量。
func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

// WithTotal 根据总数计算总页数与是否还有下一页。
func (p Page) WithTotal(total int64) Page {
	p.Total = total
	p.TotalPages = (total + int64(p.Limit) - 1) / int64(p.Limit)
	p.HasMore = int64(p.Page) < p.TotalPages
	return p
}
