package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sqlbridge/internal/config"
	"sqlbridge/internal/usage"
	"sqlbridge/internal/workflow"
)

// fakeClient scripts model responses and records the last request.
type fakeClient struct {
	completion Completion
	err        error

	lastModel  string
	lastSystem string
	lastPrompt string
}

func (f *fakeClient) Complete(ctx context.Context, prompt string) (Completion, error) {
	return f.CompleteWithModel(ctx, "", "", prompt)
}

func (f *fakeClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (Completion, error) {
	return f.CompleteWithModel(ctx, "", systemPrompt, userPrompt)
}

func (f *fakeClient) CompleteWithModel(ctx context.Context, model, systemPrompt, userPrompt string) (Completion, error) {
	f.lastModel = model
	f.lastSystem = systemPrompt
	f.lastPrompt = userPrompt
	if f.err != nil {
		return Completion{}, f.err
	}
	return f.completion, nil
}

func testLLMConfig() *config.LLMConfig {
	return &config.LLMConfig{
		Model: "gemini-2.5-flash",
		StepModels: map[string]string{
			"convert": "gemini-2.5-pro",
		},
	}
}

func TestTranslatorConvert(t *testing.T) {
	client := &fakeClient{
		completion: Completion{
			Text:  "```sql\nSELECT IFNULL(a, 0) FROM `proj.dw.orders`\n```",
			Model: "gemini-2.5-pro",
			Usage: usage.Tokens{Input: 100, Output: 20, Total: 120},
		},
	}
	tr := NewTranslator(client, testLLMConfig())

	res, err := tr.Translate(context.Background(), workflow.TranslateRequest{
		SparkSQL:  "SELECT nvl(a, 0) FROM dw.orders",
		TableInfo: "- dw.orders -> proj.dw.orders",
		Step:      workflow.StepConvert,
	})
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	if res.SQL != "SELECT IFNULL(a, 0) FROM `proj.dw.orders`" {
		t.Errorf("SQL not cleaned: %q", res.SQL)
	}
	if res.Usage.Total != 120 {
		t.Errorf("usage not propagated: %+v", res.Usage)
	}
	if client.lastModel != "gemini-2.5-pro" {
		t.Errorf("step model not routed, got %q", client.lastModel)
	}
	if !strings.Contains(client.lastPrompt, "SELECT nvl(a, 0) FROM dw.orders") {
		t.Errorf("prompt missing source SQL")
	}
	if !strings.Contains(client.lastPrompt, "Conversion Rules") {
		t.Errorf("conversion request should use the translate prompt")
	}
}

func TestTranslatorFix(t *testing.T) {
	client := &fakeClient{
		completion: Completion{Text: "SELECT a FROM `p.d.t`"},
	}
	tr := NewTranslator(client, testLLMConfig())

	history := []workflow.Attempt{{Attempt: 1, BigQuerySQL: "SELECT x", Error: "Unrecognized name: x"}}
	res, err := tr.Translate(context.Background(), workflow.TranslateRequest{
		SparkSQL:     "SELECT a FROM t",
		CurrentSQL:   "SELECT x FROM `p.d.t`",
		ErrorMessage: "Unrecognized name: x",
		History:      history,
		Step:         workflow.StepFix,
	})
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if res.SQL != "SELECT a FROM `p.d.t`" {
		t.Errorf("unexpected SQL: %q", res.SQL)
	}

	if !strings.Contains(client.lastPrompt, "## BigQuery Error:") {
		t.Errorf("fix request should use the repair prompt")
	}
	if !strings.Contains(client.lastPrompt, "Unrecognized name: x") {
		t.Errorf("prompt missing error message")
	}
	if !strings.Contains(client.lastPrompt, "Attempt 1:") {
		t.Errorf("prompt missing history")
	}
	if client.lastModel != "gemini-2.5-flash" {
		t.Errorf("fix should fall back to default model, got %q", client.lastModel)
	}
}

func TestTranslatorEmptyResponse(t *testing.T) {
	client := &fakeClient{completion: Completion{Text: "```sql\n```"}}
	tr := NewTranslator(client, testLLMConfig())

	_, err := tr.Translate(context.Background(), workflow.TranslateRequest{
		SparkSQL: "SELECT 1",
		Step:     workflow.StepConvert,
	})
	if err == nil {
		t.Fatalf("expected error for empty SQL")
	}
}

func TestTranslatorClientError(t *testing.T) {
	wantErr := errors.New("max retries exceeded")
	tr := NewTranslator(&fakeClient{err: wantErr}, testLLMConfig())

	_, err := tr.Translate(context.Background(), workflow.TranslateRequest{
		SparkSQL: "SELECT 1",
		Step:     workflow.StepConvert,
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("client error not propagated: %v", err)
	}
}

func TestSemanticCheckerVerdicts(t *testing.T) {
	client := &fakeClient{
		completion: Completion{Text: `{"is_valid": false, "error": "JOIN condition dropped"}`},
	}
	checker := NewSemanticChecker(client, testLLMConfig())

	out, err := checker.Check(context.Background(), "SELECT a FROM t", "SELECT a FROM `p.d.t`", "")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if out.OK || out.ErrorMessage != "JOIN condition dropped" {
		t.Errorf("unexpected outcome: %+v", out)
	}

	client.completion = Completion{Text: "```json\n{\"is_valid\": true, \"error\": null}\n```"}
	out, err = checker.Check(context.Background(), "SELECT a FROM t", "SELECT a FROM `p.d.t`", "")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !out.OK || out.ErrorMessage != "" {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestSemanticCheckerUnparseableIsFailedCheck(t *testing.T) {
	client := &fakeClient{completion: Completion{Text: "The SQL looks mostly fine to me."}}
	checker := NewSemanticChecker(client, testLLMConfig())

	out, err := checker.Check(context.Background(), "SELECT 1", "SELECT 1", "")
	if err != nil {
		t.Fatalf("parse failure must not become an infrastructure error: %v", err)
	}
	if out.OK {
		t.Errorf("unparseable verdict must fail the check")
	}
	if out.ErrorMessage != "Failed to parse LLM Check response" {
		t.Errorf("unexpected message: %q", out.ErrorMessage)
	}
}

func TestPlausibilityValidator(t *testing.T) {
	client := &fakeClient{
		completion: Completion{Text: `{"is_valid": true, "error": null}`},
	}
	v := NewPlausibilityValidator(client, testLLMConfig())

	out, err := v.Validate(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !out.OK || out.Mode != workflow.ValidationModeLLM {
		t.Errorf("unexpected outcome: %+v", out)
	}

	client.completion = Completion{Text: `{"is_valid": false, "error": "INT is not a BigQuery type"}`}
	out, err = v.Validate(context.Background(), "CREATE TABLE t (a INT)")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if out.OK || out.ErrorMessage != "INT is not a BigQuery type" {
		t.Errorf("unexpected outcome: %+v", out)
	}
}
