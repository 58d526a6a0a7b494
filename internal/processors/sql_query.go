package processors

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/pipeline-orchestrator/internal/errclass"
)

// DefaultMaxRows caps how many rows sql_query returns in "rows".
const DefaultMaxRows = 100

// sqlQuery runs config.query with optional positional config.args against the
// warehouse. It returns row_count, the column names, the first row as
// first_row, each first-row column as a top-level key, and up to max_rows rows.
type sqlQuery struct {
	db     Querier
	logger *zap.Logger
}

func (p *sqlQuery) Execute(ctx context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	if p.db == nil {
		return nil, errclass.Validation("sql_query: no warehouse connection configured")
	}
	query, err := requireString(SQLQuery, config, "query")
	if err != nil {
		return nil, err
	}
	args, err := listValue(config, "args")
	if err != nil {
		return nil, err
	}
	maxRows, err := floatValue(config, "max_rows", DefaultMaxRows)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sql_query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var (
		count    int
		firstRow map[string]any
		kept     []map[string]any
	)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("sql_query: scan row %d: %w", count, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(values) {
				row[col] = values[i]
			}
		}
		if count == 0 {
			firstRow = row
		}
		if len(kept) < int(maxRows) {
			kept = append(kept, row)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sql_query: %w", err)
	}

	p.logger.Debug("sql_query finished", zap.Int("row_count", count), zap.Strings("columns", columns))

	out := map[string]any{
		"row_count": count,
		"columns":   columns,
		"rows":      kept,
		"first_row": firstRow,
	}
	for col, v := range firstRow {
		if _, reserved := out[col]; !reserved {
			out[col] = v
		}
	}
	return out, nil
}
