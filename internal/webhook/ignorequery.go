package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
	jsoniter "github.com/json-iterator/go"
)

// IgnoreQuery is a jq query that is evaluated on the JSON payload of
// webhook events. Events for which it returns true are dropped.
type IgnoreQuery struct {
	query *gojq.Query
}

func NewIgnoreQuery(jqQuery string) (*IgnoreQuery, error) {
	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("parsing jq query failed: %w", err)
	}

	return &IgnoreQuery{query: query}, nil
}

func (q *IgnoreQuery) String() string {
	return q.query.String()
}

func goJQIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errs []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errs
		}

		if err, isErr := res.(error); isErr {
			errs = append(errs, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		result.WriteString(fmt.Sprintf("error %d: %s", i, err))
	}

	return result.String()
}

// Match evaluates the query on payload.
// The query must return exactly 1 boolean.
func (q *IgnoreQuery) Match(ctx context.Context, payload []byte) (bool, error) {
	var evUn any

	if len(payload) == 0 {
		return false, errors.New("payload is empty")
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(payload, &evUn); err != nil {
		return false, fmt.Errorf("unmarshaling json failed: %w", err)
	}

	result, errs := goJQIterToSlice(q.query.RunWithContext(ctx, evUn))
	if len(errs) != 0 {
		return false, fmt.Errorf("json query returned errors, query: %q, errors: %s", q.query.String(), errString(errs))
	}

	if len(result) != 1 {
		return false, fmt.Errorf("json query returned %d results, expected 1, query: %q", len(result), q.query.String())
	}

	val, ok := result[0].(bool)
	if !ok {
		return false, fmt.Errorf(
			"json query returned non-bool result: %+v (%T), query: %q",
			result[0], result[0], q.query.String(),
		)
	}

	return val, nil
}
