package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// SynthesisSystemMessage is sent with answer synthesis prompts.
const SynthesisSystemMessage = "You produce short, human friendly summaries using only the rows provided. Output JSON only."

// MaxSynthesisRows bounds the sample of rows shown to the LLM.
const MaxSynthesisRows = 20

// BuildSynthesisPrompt asks for a narrative answer over a query result.
// Only column names and at most MaxSynthesisRows rows are included; the SQL
// text is not.
func BuildSynthesisPrompt(question string, result *models.ExecutionResult) string {
	var prompt strings.Builder

	prompt.WriteString("# Answer Summary\n\n")
	prompt.WriteString("## Question\n\n")
	prompt.WriteString(strings.TrimSpace(question))
	prompt.WriteString("\n\n")

	rows := result.RowMaps()
	if len(rows) > MaxSynthesisRows {
		rows = rows[:MaxSynthesisRows]
	}
	names := make([]string, len(result.Columns))
	for i, c := range result.Columns {
		names[i] = c.Name
	}

	prompt.WriteString("## Result\n\n")
	prompt.WriteString(fmt.Sprintf("Columns: %s\n", strings.Join(names, ", ")))
	prompt.WriteString(fmt.Sprintf("Rows returned: %d", result.RowCount))
	if result.Truncated {
		prompt.WriteString(" (truncated)")
	}
	prompt.WriteString("\n\n```json\n")
	for _, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			continue
		}
		prompt.Write(line)
		prompt.WriteByte('\n')
	}
	prompt.WriteString("```\n\n")

	prompt.WriteString("## Response Format\n\n")
	prompt.WriteString("```json\n{\"response\": \"one or two sentences\", \"highlights\": [\"short fact\"]}\n```\n")
	prompt.WriteString("Do not mention values that are not in the rows above.\n")
	return prompt.String()
}
