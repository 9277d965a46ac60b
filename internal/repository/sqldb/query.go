package sqldb

import (
	"fmt"
	"math"
	"strings"

	"github.com/alfanzaky/zkqueue/internal/domain"
)

// selectSpec describes how a QueryFilter maps onto one table
type selectSpec struct {
	table        string
	columns      string
	rangeColumn  string
	orderColumns map[string]string
	defaultOrder string
}

// buildSelect turns a QueryFilter plus table-specific conditions into one
// SELECT. A single statement reads a consistent snapshot of the table.
func (spec selectSpec) buildSelect(f domain.QueryFilter, where []string, args []interface{}) (string, []interface{}, error) {
	if err := f.Validate(); err != nil {
		return "", nil, err
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, status := range f.Statuses {
			statuses = append(statuses, string(status))
		}
		where = append(where, "status IN (?)")
		args = append(args, statuses)
	}
	if f.Range != nil {
		where = append(where, fmt.Sprintf("%s >= ?", spec.rangeColumn))
		args = append(args, int64(f.Range.Low))
		// stored numbers never exceed MaxInt64, so a higher bound is open
		if f.Range.High <= math.MaxInt64 {
			where = append(where, fmt.Sprintf("%s < ?", spec.rangeColumn))
			args = append(args, int64(f.Range.High))
		}
	}

	orderKey := strings.ToLower(strings.TrimSpace(f.OrderBy))
	if orderKey == "" {
		orderKey = spec.defaultOrder
	}
	column, ok := spec.orderColumns[orderKey]
	if !ok {
		return "", nil, fmt.Errorf("%w: cannot order by %q", domain.ErrInvalidArgument, f.OrderBy)
	}
	direction := "ASC"
	if f.Desc {
		direction = "DESC"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", spec.columns, spec.table)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY %s %s, id %s", column, direction, direction)
	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	return b.String(), args, nil
}
