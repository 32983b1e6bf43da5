package intent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

func TestDecode_Accepts(t *testing.T) {
	reply := "Here is the intent:\n```json\n" + `{
	  "target": ["customers.name"],
	  "filters": [{"column": "orders.status", "operator": "  NOT   IN ", "value": ["void", "refunded"]}],
	  "aggregates": [{"func": "SUM", "column": "orders.total"}],
	  "group_by": ["customers.name"],
	  "order_by": [{"column": "sum_total", "direction": "DESC"}],
	  "limit": 10
	}` + "\n```"

	in, err := Decode(reply)
	require.NoError(t, err)

	assert.Equal(t, []string{"customers.name"}, in.Target)
	assert.Equal(t, models.OpNotIn, in.Filters[0].Operator)
	assert.Equal(t, []any{"void", "refunded"}, in.Filters[0].Value)
	assert.Equal(t, "sum", in.Aggregates[0].Func)
	assert.Equal(t, "sum_total", in.Aggregates[0].AggregateAlias())
	assert.Equal(t, models.DirectionDesc, in.OrderBy[0].Direction)
	require.NotNil(t, in.Limit)
	assert.Equal(t, 10, *in.Limit)
	assert.Nil(t, in.Source)
}

func TestDecode_NumbersStayExact(t *testing.T) {
	in, err := Decode(`{"target": ["id"], "filters": [{"column": "total", "operator": ">", "value": 12345678901234567890}]}`)
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567890"), in.Filters[0].Value)
}

func TestDecode_Malformed(t *testing.T) {
	for _, reply := range []string{
		"I cannot help with that.",
		"",
		"{not json at all",
	} {
		_, err := Decode(reply)
		var malformed *MalformedError
		assert.ErrorAs(t, err, &malformed, "reply %q", reply)
	}
}

func TestDecode_ContractViolations(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		field string
	}{
		{"wrong shape", `{"action": "DELETE"}`, "target"},
		{"array reply", `[{"target": ["id"]}]`, ""},
		{"missing filters", `{"target": ["id"]}`, "filters"},
		{"null filters", `{"target": ["id"], "filters": null}`, "filters"},
		{"unknown field", `{"target": ["id"], "filters": [], "sql": "DROP TABLE x"}`, "sql"},
		{"target wrong type", `{"target": "id", "filters": []}`, "target"},
		{"empty select", `{"target": [], "filters": []}`, "target"},
		{"unknown operator", `{"target": ["id"], "filters": [{"column": "id", "operator": "~", "value": 1}]}`, "filters[0].operator"},
		{"null needs no value", `{"target": ["id"], "filters": [{"column": "id", "operator": "is null", "value": 1}]}`, "filters[0].value"},
		{"in needs list", `{"target": ["id"], "filters": [{"column": "id", "operator": "in", "value": 1}]}`, "filters[0].value"},
		{"between needs two", `{"target": ["id"], "filters": [{"column": "id", "operator": "between", "value": [1]}]}`, "filters[0].value"},
		{"object value", `{"target": ["id"], "filters": [{"column": "id", "operator": "=", "value": {"a": 1}}]}`, "filters[0].value"},
		{"bad aggregate", `{"target": [], "filters": [], "aggregates": [{"func": "median", "column": "total"}]}`, "aggregates[0].func"},
		{"star outside count", `{"target": [], "filters": [], "aggregates": [{"func": "sum", "column": "*"}]}`, "aggregates[0].column"},
		{"duplicate aggregate", `{"target": [], "filters": [], "aggregates": [{"func": "count", "column": "*"}, {"func": "COUNT", "column": "*"}]}`, "aggregates[1]"},
		{"qualified alias", `{"target": [], "filters": [], "aggregates": [{"func": "count", "column": "*", "alias": "a.b"}]}`, "aggregates[0].alias"},
		{"bad direction", `{"target": ["id"], "filters": [], "order_by": [{"column": "id", "direction": "up"}]}`, "order_by[0].direction"},
		{"zero limit", `{"target": ["id"], "filters": [], "limit": 0}`, "limit"},
		{"too many parts", `{"target": ["a.b.c.d"], "filters": []}`, "target[0]"},
		{"empty part", `{"target": ["orders..id"], "filters": []}`, "target[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.reply)
			var ce *ContractError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field, ce.Error())
		})
	}
}

func TestEncodeDecode_RoundTripStable(t *testing.T) {
	replies := []string{
		`{"target": ["id", "status"], "filters": [{"column": "status", "operator": "=", "value": "open"}]}`,
		`{"target": ["customers.name"], "filters": [], "aggregates": [{"func": "sum", "column": "orders.total", "alias": "spend"}], "group_by": ["customers.name"], "order_by": [{"column": "spend", "direction": "desc"}], "limit": 5}`,
		`{"target": ["id"], "filters": [{"column": "created_at", "operator": "IS NULL"}, {"column": "total", "operator": "between", "value": [1.50, 20]}]}`,
		`{"target": [], "filters": [{"column": "paid", "operator": "!=", "value": true}], "aggregates": [{"func": "count", "column": "*"}], "group_by": [], "order_by": []}`,
	}

	for _, reply := range replies {
		first, err := Decode(reply)
		require.NoError(t, err, reply)

		encoded, err := Encode(first)
		require.NoError(t, err)
		second, err := Decode(encoded)
		require.NoError(t, err, encoded)
		assert.Equal(t, first, second)

		again, err := Encode(second)
		require.NoError(t, err)
		assert.Equal(t, encoded, again)
	}
}
