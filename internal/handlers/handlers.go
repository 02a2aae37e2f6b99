package handlers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	TotalCountHeader = "X-Total-Count"
	maxPageSize      = 500
)

var columnName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Query is the react-admin list convention: sort=["field","DESC"], range=[0,24] and
// filter={"field":"value"}.
type Query struct {
	Sort   string `form:"sort"`
	Filter string `form:"filter"`
	Range  string `form:"range"`
}

func (q *Query) GetSort() (string, error) {
	var parts []string
	if err := json.Unmarshal([]byte(q.Sort), &parts); err != nil {
		return "", err
	}
	if len(parts) != 2 {
		return "", fmt.Errorf("sort takes a field and a direction")
	}
	if !columnName.MatchString(parts[0]) {
		return "", fmt.Errorf("invalid sort field: %q", parts[0])
	}
	direction := strings.ToUpper(parts[1])
	if direction != "ASC" && direction != "DESC" {
		return "", fmt.Errorf("invalid sort direction: %q", parts[1])
	}
	return parts[0] + " " + direction, nil
}

func (q *Query) GetRange() (int, int, error) {
	var parts []int
	if err := json.Unmarshal([]byte(q.Range), &parts); err != nil {
		return 0, 0, err
	}
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("range takes a start and an end")
	}
	start := parts[0]
	end := parts[1]
	if start < 0 || end < start {
		return 0, 0, fmt.Errorf("invalid range: [%d, %d]", start, end)
	}
	pageSize := end - start + 1
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return pageSize, start, nil
}

func (q *Query) GetFilter() (map[string]interface{}, error) {
	var parts map[string]interface{}
	if err := json.Unmarshal([]byte(q.Filter), &parts); err != nil {
		return parts, err
	}
	for field := range parts {
		if !columnName.MatchString(field) {
			return nil, fmt.Errorf("invalid filter field: %q", field)
		}
	}
	return parts, nil
}

// FilterAndPaginate is a gorm scope applying the list query of the request.
func FilterAndPaginate(model interface{}, c *gin.Context, orderBy string) func(db *gorm.DB) *gorm.DB {
	var query Query
	if err := c.ShouldBindQuery(&query); err != nil {
		return func(db *gorm.DB) *gorm.DB {
			db.Error = err
			return db
		}
	}
	return FilterAndPaginateWithQuery(model, c, query, orderBy)
}

func FilterAndPaginateWithQuery(model interface{}, c *gin.Context, query Query, defaultOrderBy string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {

		if order, err := query.GetSort(); err == nil {
			db = db.Order(order)
		} else if defaultOrderBy != "" {
			db = db.Order(defaultOrderBy)
		}

		if filter, err := query.GetFilter(); err == nil && len(filter) > 0 {
			db = db.Where(filter)
		}

		if pageSize, offset, err := query.GetRange(); err == nil {
			var totalCount int64
			countDBSession := db.Session(&gorm.Session{Initialized: true})
			res := countDBSession.Model(model).Count(&totalCount)
			if res.Error != nil {
				return db
			}
			c.Header("Access-Control-Expose-Headers", TotalCountHeader)
			c.Header(TotalCountHeader, strconv.Itoa(int(totalCount)))
			db = db.Offset(offset).Limit(pageSize)
		} else {
			db = db.Limit(maxPageSize)
		}
		return db
	}
}
