package llm

import (
	"context"
	"fmt"

	"sqlbridge/internal/config"
	"sqlbridge/internal/logging"
	"sqlbridge/internal/workflow"
)

// Translator converts Spark SQL to BigQuery SQL through the model. The
// same adapter serves initial conversion and fix attempts; a request with
// an error message is a fix.
type Translator struct {
	client Client
	cfg    *config.LLMConfig
}

// NewTranslator creates a Translator on the given client.
func NewTranslator(client Client, cfg *config.LLMConfig) *Translator {
	return &Translator{client: client, cfg: cfg}
}

// Translate renders the conversion or fix prompt and returns cleaned SQL.
func (t *Translator) Translate(ctx context.Context, req workflow.TranslateRequest) (workflow.TranslateResult, error) {
	var prompt string
	if req.ErrorMessage != "" {
		prompt = FixPrompt(req.SparkSQL, req.CurrentSQL, req.ErrorMessage, req.TableInfo, req.TableDDLs, req.History)
	} else {
		prompt = TranslatePrompt(req.SparkSQL, req.TableInfo, req.TableDDLs)
	}

	model := t.cfg.StepModel(string(req.Step))
	comp, err := t.client.CompleteWithModel(ctx, model, "", prompt)
	if err != nil {
		return workflow.TranslateResult{}, err
	}

	sql := CleanSQLResponse(comp.Text)
	if sql == "" {
		return workflow.TranslateResult{}, fmt.Errorf("model returned empty SQL")
	}

	return workflow.TranslateResult{
		SQL:     sql,
		Model:   comp.Model,
		Usage:   comp.Usage,
		Latency: comp.Latency,
	}, nil
}

// SemanticChecker asks the model whether converted SQL preserves the
// source query's meaning.
type SemanticChecker struct {
	client Client
	cfg    *config.LLMConfig
}

// NewSemanticChecker creates a SemanticChecker on the given client.
func NewSemanticChecker(client Client, cfg *config.LLMConfig) *SemanticChecker {
	return &SemanticChecker{client: client, cfg: cfg}
}

// Check reviews the conversion. An unparseable verdict is a failed check,
// not an infrastructure error.
func (c *SemanticChecker) Check(ctx context.Context, sparkSQL, bigquerySQL, tableDDLs string) (workflow.CheckOutcome, error) {
	prompt := SemanticCheckPrompt(sparkSQL, bigquerySQL, tableDDLs)
	model := c.cfg.StepModel(string(workflow.StepSemanticCheck))

	comp, err := c.client.CompleteWithModel(ctx, model, "", prompt)
	if err != nil {
		return workflow.CheckOutcome{}, err
	}

	valid, errMsg, ok := ParseVerdict(comp.Text)
	if !ok {
		logging.LLMError("semantic check verdict unparseable: %.200s", comp.Text)
		return workflow.CheckOutcome{
			OK:           false,
			ErrorMessage: "Failed to parse LLM Check response",
			Model:        comp.Model,
			Usage:        comp.Usage,
		}, nil
	}

	return workflow.CheckOutcome{
		OK:           valid,
		ErrorMessage: errMsg,
		Model:        comp.Model,
		Usage:        comp.Usage,
	}, nil
}

// PlausibilityValidator validates BigQuery SQL with the model instead of a
// dry run. Used when BigQuery access is not configured.
type PlausibilityValidator struct {
	client Client
	cfg    *config.LLMConfig
}

// NewPlausibilityValidator creates an LLM-backed Validator.
func NewPlausibilityValidator(client Client, cfg *config.LLMConfig) *PlausibilityValidator {
	return &PlausibilityValidator{client: client, cfg: cfg}
}

// Validate asks the model for a syntax verdict on the SQL.
func (v *PlausibilityValidator) Validate(ctx context.Context, sql string) (workflow.ValidationOutcome, error) {
	prompt := PlausibilityPrompt(sql)
	model := v.cfg.StepModel(string(workflow.StepDryRun))

	comp, err := v.client.CompleteWithModel(ctx, model, "", prompt)
	if err != nil {
		return workflow.ValidationOutcome{}, err
	}

	valid, errMsg, ok := ParseVerdict(comp.Text)
	if !ok {
		logging.LLMError("plausibility verdict unparseable: %.200s", comp.Text)
		return workflow.ValidationOutcome{
			Mode:         workflow.ValidationModeLLM,
			OK:           false,
			ErrorMessage: "Failed to parse LLM validation response",
			Model:        comp.Model,
			Usage:        comp.Usage,
		}, nil
	}

	return workflow.ValidationOutcome{
		Mode:         workflow.ValidationModeLLM,
		OK:           valid,
		ErrorMessage: errMsg,
		Model:        comp.Model,
		Usage:        comp.Usage,
	}, nil
}
