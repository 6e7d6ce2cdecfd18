package llm

import (
	"embed"
	"fmt"
	"strings"

	"sqlbridge/internal/workflow"
)

// Prompt templates live in plain text files with {name} placeholders. The
// SQL examples inside them carry backticks and percent signs, so they
// cannot sit in Go string literals or Sprintf format strings.
//
//go:embed prompts
var promptFS embed.FS

var (
	translateTemplate     = mustPrompt("translate.txt")
	fixTemplate           = mustPrompt("fix.txt")
	semanticCheckTemplate = mustPrompt("semantic_check.txt")
	plausibilityTemplate  = mustPrompt("plausibility.txt")
)

func mustPrompt(name string) string {
	data, err := promptFS.ReadFile("prompts/" + name)
	if err != nil {
		panic(fmt.Sprintf("embedded prompt %s missing: %v", name, err))
	}
	return string(data)
}

const noDDLs = "No DDLs available."

// TranslatePrompt renders the Spark to BigQuery conversion prompt.
func TranslatePrompt(sparkSQL, tableMappingInfo, tableDDLs string) string {
	if tableMappingInfo == "" {
		tableMappingInfo = "No table mappings available."
	}
	if tableDDLs == "" {
		tableDDLs = noDDLs
	}
	return strings.NewReplacer(
		"{spark_sql}", sparkSQL,
		"{table_mapping_info}", tableMappingInfo,
		"{table_ddls}", tableDDLs,
	).Replace(translateTemplate)
}

// FixPrompt renders the repair prompt used by the auto fix loop.
func FixPrompt(sparkSQL, bigquerySQL, errorMessage, tableMappingInfo, tableDDLs string, history []workflow.Attempt) string {
	if tableMappingInfo == "" {
		tableMappingInfo = "No table mappings available."
	}
	if tableDDLs == "" {
		tableDDLs = noDDLs
	}
	return strings.NewReplacer(
		"{spark_sql}", sparkSQL,
		"{bigquery_sql}", bigquerySQL,
		"{error_message}", errorMessage,
		"{table_mapping_info}", tableMappingInfo,
		"{table_ddls}", tableDDLs,
		"{conversion_history}", FormatHistory(history),
	).Replace(fixTemplate)
}

// SemanticCheckPrompt renders the conversion review prompt.
func SemanticCheckPrompt(sparkSQL, bigquerySQL, tableDDLs string) string {
	if tableDDLs == "" {
		tableDDLs = noDDLs
	}
	return strings.NewReplacer(
		"{spark_sql}", sparkSQL,
		"{bigquery_sql}", bigquerySQL,
		"{table_ddls}", tableDDLs,
	).Replace(semanticCheckTemplate)
}

// PlausibilityPrompt renders the LLM-only BigQuery syntax check prompt used
// when dry run validation is unavailable.
func PlausibilityPrompt(bigquerySQL string) string {
	return strings.NewReplacer(
		"{bigquery_sql}", bigquerySQL,
	).Replace(plausibilityTemplate)
}

// FormatHistory renders prior conversion attempts for the repair prompt.
func FormatHistory(history []workflow.Attempt) string {
	if len(history) == 0 {
		return "No previous attempts."
	}
	var b strings.Builder
	for _, entry := range history {
		fmt.Fprintf(&b, "\nAttempt %d:\nSQL: %s\n", entry.Attempt, entry.BigQuerySQL)
		if entry.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", entry.Error)
		}
	}
	return b.String()
}
