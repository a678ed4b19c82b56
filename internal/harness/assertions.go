package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/tablewise/syncengine/internal/record"
	"github.com/tablewise/syncengine/internal/store"
)

// AssertionError is returned when an assertion fails. It includes the
// backend request trace for debugging context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Requests []RequestEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nRequest trace:\n")
	for i, req := range e.Requests {
		fmt.Fprintf(&buf, "  [%d] %s %s\n", i+1, req.Method, req.Path)
	}
	return buf.String()
}

func evaluate(ctx context.Context, a Assertion, st *store.Store, result *Result) error {
	switch a.Type {
	case "pending_count":
		n, err := st.CountPending(ctx)
		if err != nil {
			return err
		}
		return expectCount(a, "pending writes", n, result)

	case "store_count":
		records, err := st.GetAll(ctx, a.Collection)
		if err != nil {
			return err
		}
		return expectCount(a, fmt.Sprintf("records in %s", a.Collection), len(records), result)

	case "store_contains":
		return assertStoreContains(ctx, a, st, result)

	case "request_count":
		return expectCount(a, "backend requests", len(result.Requests), result)

	case "request_order":
		return assertRequestOrder(a, result)

	case "fetch_count":
		return expectCount(a, "fetched records", len(result.LastFetch), result)

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func expectCount(a Assertion, what string, actual int, result *Result) error {
	want, ok := a.Expect.(int)
	if !ok {
		return fmt.Errorf("%s assertion: expect must be an integer, got %T", a.Type, a.Expect)
	}
	if actual != want {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s", want, what),
			Actual:   fmt.Sprintf("%d %s", actual, what),
			Requests: result.Requests,
		}
	}
	return nil
}

func assertStoreContains(ctx context.Context, a Assertion, st *store.Store, result *Result) error {
	key, err := record.KeyOf(a.Where["id"])
	if err != nil {
		return fmt.Errorf("store_contains assertion: %w", err)
	}

	rec, ok, err := st.Get(ctx, a.Collection, key)
	if err != nil {
		return err
	}
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("record %s in %s", key, a.Collection),
			Actual:   "absent",
			Requests: result.Requests,
		}
	}

	expect, ok := a.Expect.(map[string]any)
	if !ok {
		return nil // presence-only check
	}
	for field, want := range expect {
		got, gotOK := fieldAsString(rec, field)
		wantStr := fmt.Sprintf("%v", want)
		if !gotOK || got != wantStr {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s.%s = %v", key, field, want),
				Actual:   fmt.Sprintf("%s.%s = %v", key, field, rec[field]),
				Requests: result.Requests,
			}
		}
	}
	return nil
}

func assertRequestOrder(a Assertion, result *Result) error {
	actual := make([]string, len(result.Requests))
	for i, req := range result.Requests {
		actual[i] = req.Method + " " + req.Path
	}
	if len(actual) != len(a.Order) {
		return &AssertionError{
			Type:     a.Type,
			Expected: strings.Join(a.Order, ", "),
			Actual:   strings.Join(actual, ", "),
			Requests: result.Requests,
		}
	}
	for i := range a.Order {
		if actual[i] != a.Order[i] {
			return &AssertionError{
				Type:     a.Type,
				Expected: strings.Join(a.Order, ", "),
				Actual:   strings.Join(actual, ", "),
				Requests: result.Requests,
			}
		}
	}
	return nil
}

// fieldAsString compares scenario-file values against stored values through
// their string spellings, so YAML integers match JSON numbers.
func fieldAsString(rec record.Record, field string) (string, bool) {
	v, ok := rec[field]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return fmt.Sprintf("%v", val), true
	default:
		if key, err := record.KeyOf(v); err == nil {
			return key, true
		}
		return fmt.Sprintf("%v", v), true
	}
}
