package format

import (
	"fmt"
	"strings"
	"time"
)

const TableView = "Table view"

type columnShape struct {
	name     string
	numeric  bool
	temporal bool
	distinct int
}

// shapes classifies each column as temporal, numeric or categorical from its
// name and the values it holds.
func shapes(headers []string, rows []map[string]any) []columnShape {
	out := make([]columnShape, 0, len(headers))
	for _, h := range headers {
		s := columnShape{name: h, temporal: headerKind(h) == kindDate}
		allTimes, allNumbers, seen := true, true, 0
		distinct := map[string]struct{}{}
		for _, row := range rows {
			v, ok := row[h]
			if !ok || v == nil {
				continue
			}
			seen++
			distinct[fmt.Sprint(v)] = struct{}{}
			if _, isTime := v.(time.Time); !isTime {
				allTimes = false
			}
			if _, isNum := number(v); !isNum {
				allNumbers = false
			}
		}
		if seen > 0 && allTimes {
			s.temporal = true
		}
		s.numeric = !s.temporal && seen > 0 && allNumbers
		s.distinct = len(distinct)
		out = append(out, s)
	}
	return out
}

// VisualizationHint suggests a chart for the result shape. Rules are tried in
// order and the first that applies wins.
func VisualizationHint(headers []string, rows []map[string]any) string {
	if len(headers) == 0 || len(rows) == 0 {
		return TableView
	}
	var temporal, numeric, categorical []columnShape
	for _, s := range shapes(headers, rows) {
		switch {
		case s.temporal:
			temporal = append(temporal, s)
		case s.numeric:
			numeric = append(numeric, s)
		default:
			categorical = append(categorical, s)
		}
	}
	total := len(rows)

	switch {
	case len(temporal) > 0 && len(numeric) > 0:
		return fmt.Sprintf("Line chart of %s over %s", names(numeric), temporal[0].name)
	case len(categorical) == 1 && len(numeric) == 1:
		if total > 10 {
			return fmt.Sprintf("Bar chart of %s by %s", numeric[0].name, categorical[0].name)
		}
		return fmt.Sprintf("Column chart of %s by %s", numeric[0].name, categorical[0].name)
	// Two numeric columns on their own are left for the scatter plot.
	case len(numeric) > 1 && (len(categorical) > 0 || len(numeric) > 2):
		hint := "Multi-series bar chart of " + names(numeric)
		if len(categorical) > 0 {
			hint += " by " + categorical[0].name
		}
		return hint
	case len(numeric) == 1 && total > 20:
		return "Histogram of " + numeric[0].name
	case len(numeric) == 2:
		return fmt.Sprintf("Scatter plot of %s against %s", numeric[1].name, numeric[0].name)
	case len(categorical) == 1 && categorical[0].distinct > 10:
		return "Treemap or pie chart of " + categorical[0].name
	}
	return TableView
}

func names(cols []columnShape) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.name
	}
	return strings.Join(out, ", ")
}
