package app

import (
	"regexp"
	"strconv"
	"strings"
)

// Spans keep the statement shape, not every placeholder of a batch insert.
const traceQueryLimit = 512

var (
	traceSpaces = regexp.MustCompile(`\s+`)
	// "($1, $2), ($3, $4), ..." as emitted by the batch inserts
	traceTuples = regexp.MustCompile(`(\(\$\d+(?:, ?\$\d+)*\))(?:, ?\(\$\d+(?:, ?\$\d+)*\))+`)
)

func formatDBQueryForTrace(query string) string {
	q := strings.TrimSpace(traceSpaces.ReplaceAllString(query, " "))
	q = traceTuples.ReplaceAllStringFunc(q, func(tuples string) string {
		first := traceTuples.FindStringSubmatch(tuples)[1]
		rows := strings.Count(tuples, "(")
		return first + " /* x" + strconv.Itoa(rows) + " */"
	})
	if len(q) > traceQueryLimit {
		q = q[:traceQueryLimit] + "..."
	}
	return q
}
