package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// MalformedError means the reply contained no parseable JSON object.
type MalformedError struct {
	Cause error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("reply is not a JSON object: %v", e.Cause)
}

func (e *MalformedError) Unwrap() error { return e.Cause }

// ContractError is a JSON reply that violates the intent contract: a missing
// or unknown field, a wrong type or a value outside an allow-list.
type ContractError struct {
	Field   string
	Message string
}

func (e *ContractError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func violation(field, format string, args ...any) *ContractError {
	return &ContractError{Field: field, Message: fmt.Sprintf(format, args...)}
}

var requiredFields = []string{"target", "filters"}

// Decode parses an LLM reply into an Intent and checks it against the
// contract. Surrounding prose or code fences are tolerated; anything else
// about the object is not. Accepted intents are normalized: operators and
// directions are lower case and numbers are json.Number.
func Decode(reply string) (*models.Intent, error) {
	raw, err := llm.ExtractJSON(reply)
	if err != nil {
		return nil, &MalformedError{Cause: err}
	}

	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, violation("", "reply must be a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil, &MalformedError{Cause: err}
	}
	for _, f := range requiredFields {
		v, ok := fields[f]
		if !ok {
			return nil, violation(f, "required field is missing")
		}
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, violation(f, "must be a list, not null")
		}
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()
	dec.UseNumber()

	var in models.Intent
	if err := dec.Decode(&in); err != nil {
		return nil, decodeViolation(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, violation("", "unexpected data after the JSON object")
	}

	if err := Check(&in); err != nil {
		return nil, err
	}
	return &in, nil
}

func decodeViolation(err error) *ContractError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "intent"
		}
		return violation(field, "expected %s, got JSON %s", typeErr.Type.String(), typeErr.Value)
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "json: unknown field ") {
		return violation(strings.Trim(strings.TrimPrefix(msg, "json: unknown field "), `"`), "unknown field")
	}
	return violation("", "%s", strings.TrimPrefix(msg, "json: "))
}

// Check validates and normalizes a decoded intent.
func Check(in *models.Intent) error {
	if in.Target == nil {
		return violation("target", "required field is missing")
	}
	if in.Filters == nil {
		return violation("filters", "required field is missing")
	}
	if len(in.Target) == 0 && len(in.Aggregates) == 0 {
		return violation("target", "select at least one column or aggregate")
	}

	for i, id := range in.Target {
		if err := checkIdentifier(fmt.Sprintf("target[%d]", i), id); err != nil {
			return err
		}
	}

	for i := range in.Filters {
		if err := checkFilter(fmt.Sprintf("filters[%d]", i), &in.Filters[i]); err != nil {
			return err
		}
	}

	aliases := make(map[string]bool)
	for i := range in.Aggregates {
		a := &in.Aggregates[i]
		field := fmt.Sprintf("aggregates[%d]", i)
		a.Func = strings.ToLower(strings.TrimSpace(a.Func))
		if !contains(models.AggregateFuncs, a.Func) {
			return violation(field+".func", "unsupported aggregate %q", a.Func)
		}
		if a.Column == "*" {
			if a.Func != "count" {
				return violation(field+".column", "only count accepts \"*\"")
			}
		} else if err := checkIdentifier(field+".column", a.Column); err != nil {
			return err
		}
		if a.Alias != "" {
			if err := checkIdentifier(field+".alias", a.Alias); err != nil {
				return err
			}
			if strings.Contains(a.Alias, ".") {
				return violation(field+".alias", "alias must be a plain name")
			}
		}
		alias := strings.ToLower(a.AggregateAlias())
		if aliases[alias] {
			return violation(field, "duplicate aggregate %q", a.AggregateAlias())
		}
		aliases[alias] = true
	}

	for i, id := range in.GroupBy {
		if err := checkIdentifier(fmt.Sprintf("group_by[%d]", i), id); err != nil {
			return err
		}
	}

	for i := range in.OrderBy {
		o := &in.OrderBy[i]
		field := fmt.Sprintf("order_by[%d]", i)
		if err := checkIdentifier(field+".column", o.Column); err != nil {
			return err
		}
		o.Direction = strings.ToLower(strings.TrimSpace(o.Direction))
		if o.Direction != models.DirectionAsc && o.Direction != models.DirectionDesc {
			return violation(field+".direction", "must be \"asc\" or \"desc\"")
		}
	}

	if in.Limit != nil && *in.Limit <= 0 {
		return violation("limit", "must be a positive integer")
	}

	// Optional lists are omitted when empty on encode.
	if len(in.Aggregates) == 0 {
		in.Aggregates = nil
	}
	if len(in.GroupBy) == 0 {
		in.GroupBy = nil
	}
	if len(in.OrderBy) == 0 {
		in.OrderBy = nil
	}
	return nil
}

func checkFilter(field string, f *models.Filter) error {
	if err := checkIdentifier(field+".column", f.Column); err != nil {
		return err
	}
	f.Operator = strings.Join(strings.Fields(strings.ToLower(f.Operator)), " ")
	if !contains(models.Operators, f.Operator) {
		return violation(field+".operator", "unknown operator %q", f.Operator)
	}

	switch f.Operator {
	case models.OpIsNull, models.OpIsNotNull:
		if f.Value != nil {
			return violation(field+".value", "%s takes no value", f.Operator)
		}
	case models.OpIn, models.OpNotIn:
		items, ok := f.Value.([]any)
		if !ok || len(items) == 0 {
			return violation(field+".value", "%s needs a non-empty list", f.Operator)
		}
		for _, item := range items {
			if !isScalar(item) || item == nil {
				return violation(field+".value", "list items must be strings, numbers or booleans")
			}
		}
	case models.OpBetween:
		items, ok := f.Value.([]any)
		if !ok || len(items) != 2 || !isScalar(items[0]) || !isScalar(items[1]) || items[0] == nil || items[1] == nil {
			return violation(field+".value", "between needs a list of exactly two values")
		}
	default:
		if f.Value == nil || !isScalar(f.Value) {
			return violation(field+".value", "%s needs a string, number or boolean", f.Operator)
		}
	}
	return nil
}

func checkIdentifier(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return violation(field, "identifier is empty")
	}
	parts := strings.Split(id, ".")
	if len(parts) > 3 {
		return violation(field, "identifier %q has too many parts", id)
	}
	for _, p := range parts {
		if p == "" || strings.TrimSpace(p) != p {
			return violation(field, "identifier %q is malformed", id)
		}
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, json.Number:
		return true
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Encode serializes an intent in contract form. Decode(Encode(x)) returns an
// intent equal to x for any accepted x.
func Encode(in *models.Intent) (string, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
