package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// IntentSystemMessage is sent with every intent and repair prompt.
const IntentSystemMessage = "You translate questions about a database into a query intent. " +
	"Respond with a single JSON object and nothing else."

// BuildIntentPrompt creates the prompt asking the LLM to express question as
// an intent over the tables of slice. The prompt is a pure function of its
// inputs so a scripted client sees identical text for identical requests.
func BuildIntentPrompt(question string, slice *models.RankedSlice) string {
	var prompt strings.Builder

	prompt.WriteString("# Query Intent\n\n")
	prompt.WriteString("Describe the data needed to answer the question below. Use only the tables and columns listed.\n\n")

	prompt.WriteString("## Schema\n\n")
	prompt.WriteString("Each line is table(column type, ...). pk marks primary key columns and -> marks foreign keys.\n\n")
	prompt.WriteString("```\n")
	prompt.WriteString(slice.Render())
	prompt.WriteString("```\n\n")

	prompt.WriteString("## Question\n\n")
	prompt.WriteString(strings.TrimSpace(question))
	prompt.WriteString("\n\n")

	writeContract(&prompt)
	return prompt.String()
}

// BuildRepairPrompt asks the LLM to fix its previous reply. problem is the
// contract violation or parse failure, phrased for the model.
func BuildRepairPrompt(question string, slice *models.RankedSlice, previous, problem string) string {
	var prompt strings.Builder

	prompt.WriteString(BuildIntentPrompt(question, slice))
	prompt.WriteString("\n## Previous Reply\n\n")
	prompt.WriteString("Your previous reply was rejected.\n\n")
	prompt.WriteString("```\n")
	prompt.WriteString(truncate(previous, 2000))
	prompt.WriteString("\n```\n\n")
	prompt.WriteString(fmt.Sprintf("Problem: %s\n\n", problem))
	prompt.WriteString("Reply again with a corrected JSON object that follows the response format exactly.\n")
	return prompt.String()
}

func writeContract(prompt *strings.Builder) {
	prompt.WriteString("## Response Format\n\n")
	prompt.WriteString("Respond with a JSON object with exactly these fields:\n\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{
  "target": ["column", "table.column"],
  "filters": [{"column": "table.column", "operator": "=", "value": "literal"}],
  "aggregates": [{"func": "count", "column": "*"}],
  "group_by": ["column"],
  "order_by": [{"column": "column", "direction": "desc"}],
  "limit": 10
}`)
	prompt.WriteString("\n```\n\n")
	prompt.WriteString("Rules:\n")
	prompt.WriteString("- `target` and `filters` are required; use [] when there are none.\n")
	prompt.WriteString("- `aggregates`, `group_by`, `order_by` and `limit` are optional. Do not add any other field.\n")
	prompt.WriteString(fmt.Sprintf("- `operator` is one of: %s.\n", strings.Join(quoteAll(models.Operators), ", ")))
	prompt.WriteString("- `in`, `not in` take a list value; `between` takes a list of two values; `is null` and `is not null` take no value.\n")
	prompt.WriteString(fmt.Sprintf("- `func` is one of: %s. Only count may use \"*\".\n", strings.Join(quoteAll(models.AggregateFuncs), ", ")))
	prompt.WriteString("- An aggregate is named func_column (or func for count(*)); order_by may use that name.\n")
	prompt.WriteString("- `direction` is \"asc\" or \"desc\". `limit` is a positive integer.\n")
	prompt.WriteString("- Qualify a column with its table when more than one table has it.\n")
	prompt.WriteString("- Never describe changes to data. Only reading is possible.\n")
}

func quoteAll(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = `"` + s + `"`
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
