package api

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/alfanzaky/zkqueue/internal/domain"
)

func invalidParam(name, value string) error {
	return fmt.Errorf("%w: invalid %s %q", domain.ErrInvalidArgument, name, value)
}

func uintParam(value, name string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 63)
	if err != nil {
		return 0, invalidParam(name, value)
	}
	return n, nil
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, invalidParam(name, raw)
	}
	return n, nil
}

func boolQuery(c *gin.Context, name string) (bool, error) {
	raw, ok := c.GetQuery(name)
	if !ok || strings.TrimSpace(raw) == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalidParam(name, raw)
	}
	return b, nil
}

// queryFilter reads statuses, from, to, limit, order_by and desc
func queryFilter(c *gin.Context) (domain.QueryFilter, error) {
	var filter domain.QueryFilter

	statuses, err := domain.ParseStatuses(c.Query("statuses"))
	if err != nil {
		return filter, err
	}
	filter.Statuses = statuses

	from, hasFrom := c.GetQuery("from")
	to, hasTo := c.GetQuery("to")
	if hasFrom || hasTo {
		r := domain.Range{High: math.MaxInt64}
		if hasFrom {
			if r.Low, err = uintParam(from, "from"); err != nil {
				return filter, err
			}
		}
		if hasTo {
			if r.High, err = uintParam(to, "to"); err != nil {
				return filter, err
			}
		}
		filter.Range = &r
	}

	if filter.Limit, err = intQuery(c, "limit", 0); err != nil {
		return filter, err
	}
	if filter.Desc, err = boolQuery(c, "desc"); err != nil {
		return filter, err
	}
	filter.OrderBy = c.Query("order_by")

	return filter, filter.Validate()
}
