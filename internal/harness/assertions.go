package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/earshot/internal/engine"
	"github.com/roach88/earshot/internal/store"
)

// validIdentifier matches valid SQL identifiers (column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}

	return buf.String()
}

// matchNotice reports whether event satisfies the assertion's notice
// filters. Empty filters match anything; Clips must match exactly.
func matchNotice(event TraceEvent, a Assertion) bool {
	if a.Kind != "" && event.Kind != a.Kind {
		return false
	}
	if a.Graph != "" && event.Graph != a.Graph {
		return false
	}
	if a.To != "" && event.To != a.To {
		return false
	}
	if a.Code != "" && event.Code != a.Code {
		return false
	}
	if a.Clips != nil && !slices.Equal(event.Clips, a.Clips) {
		return false
	}
	return true
}

func describeFilter(a Assertion) string {
	var parts []string
	for _, kv := range [][2]string{{"kind", a.Kind}, {"graph", a.Graph}, {"to", a.To}, {"code", a.Code}} {
		if kv[1] != "" {
			parts = append(parts, kv[0]+"="+kv[1])
		}
	}
	if a.Clips != nil {
		parts = append(parts, fmt.Sprintf("clips=%v", a.Clips))
	}
	if len(parts) == 0 {
		return "(any notice)"
	}
	return strings.Join(parts, " ")
}

// assertTraceContains checks that at least one notice matches the filters.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matchNotice(event, assertion) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: "notice " + describeFilter(assertion),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that notice keys appear in the specified order.
// Keys don't need to be consecutive (intervening notices are allowed), and
// each key matches a notice after the previous key's match.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for _, key := range assertion.Order {
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if event.Key() == key {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("notices in order: %v", assertion.Order),
				Actual:   fmt.Sprintf("%s not found after the preceding entries", key),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count notices match the filters.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matchNotice(event, assertion) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d notices %s", assertion.Count, describeFilter(assertion)),
			Actual:   fmt.Sprintf("%d notices", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertPlaying checks how many registered events (of Graph, if set) are in
// the Played state when the script ends.
func assertPlaying(eng *engine.Engine, assertion Assertion) error {
	count := 0
	for _, ev := range eng.Active() {
		if ev.State() != engine.StatePlayed {
			continue
		}
		if assertion.Graph != "" && ev.Graph().Name != assertion.Graph {
			continue
		}
		count++
	}

	if count != assertion.Count {
		what := "events"
		if assertion.Graph != "" {
			what = "instances of " + assertion.Graph
		}
		return &AssertionError{
			Type:     AssertPlaying,
			Expected: fmt.Sprintf("%d playing %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d playing", count),
		}
	}
	return nil
}

// assertMixer checks the snapshot transitions received by the mixer.
func assertMixer(snapshots []string, assertion Assertion) error {
	if slices.Equal(snapshots, assertion.Snapshots) {
		return nil
	}
	return &AssertionError{
		Type:     AssertMixer,
		Expected: fmt.Sprintf("snapshots %v", assertion.Snapshots),
		Actual:   fmt.Sprintf("snapshots %v", snapshots),
	}
}

// assertFinalState checks that exactly one row of the plays or transitions
// table matches Where and carries the Expect values (subset semantics).
//
// Column names are validated against a whitelist pattern and values are
// always bound as parameters.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if assertion.Table != "plays" && assertion.Table != "transitions" {
		return fmt.Errorf("final_state: unknown table %q", assertion.Table)
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := "SELECT * FROM " + assertion.Table
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	for key, expectedValue := range assertion.Expect {
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q to exist", key),
				Actual:   fmt.Sprintf("column %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("column %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs a parameterized WHERE clause.
// Keys are sorted for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, where[key])
	}

	return strings.Join(clauses, " AND "), args, nil
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares a YAML-decoded expected value with a SQLite
// column value. SQLite returns int64 for integers, float64 for reals and
// string or []byte for text.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		act, ok := actual.(string)
		return ok && exp == act
	case int:
		return numericEqual(float64(exp), actual)
	case int64:
		return numericEqual(float64(exp), actual)
	case float64:
		return numericEqual(exp, actual)
	case bool:
		if act, ok := actual.(bool); ok {
			return exp == act
		}
		if act, ok := actual.(int64); ok {
			return exp == (act != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

func numericEqual(exp float64, actual any) bool {
	switch act := actual.(type) {
	case int64:
		return exp == float64(act)
	case float64:
		return exp == act
	case int:
		return exp == float64(act)
	}
	return false
}

// AssertionContext provides the runtime state assertions inspect.
type AssertionContext struct {
	Store  *store.Store
	Engine *engine.Engine
	Ctx    context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database and engine access for final_state
// and playing assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertMixer:
			err = assertMixer(result.Snapshots, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		case AssertPlaying:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: playing requires engine context", i)
			} else {
				err = assertPlaying(actx.Engine, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
