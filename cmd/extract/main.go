// Command extract runs field extraction over a plain-text document and prints the
// reconciled fields. Without an LLM key it reconciles an empty response, which falls back
// to pattern matching against the text.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"strings"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/fieldschema"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/llm/openrouter"
	"github.com/joseph-ayodele/docflow/internal/reconcile"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	fields := flag.String("fields", "", "comma separated field list, table columns as table:<group>::<column>")
	responsePath := flag.String("response", "", "reconcile a saved model response instead of calling the LLM")
	flag.Parse()
	if flag.NArg() != 1 || *fields == "" {
		logger.Error("usage", "cmd", "extract -fields \"Номер,Дата\" [-response resp.txt] <text-file>")
		os.Exit(2)
	}

	tokens := splitFields(*fields)
	if err := fieldschema.Validate(tokens); err != nil {
		logger.Error("invalid field list", "error", err)
		os.Exit(2)
	}
	schema := fieldschema.Parse(tokens)

	raw, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		logger.Error("read text", "error", err)
		os.Exit(1)
	}
	text := string(raw)

	var response string
	switch {
	case *responsePath != "":
		b, err := os.ReadFile(*responsePath)
		if err != nil {
			logger.Error("read response", "error", err)
			os.Exit(1)
		}
		response = string(b)
	default:
		response = generate(logger, text, schema)
	}

	res := reconcile.NewEngine(logger).Reconcile(reconcile.Input{
		Response: response,
		Schema:   schema,
		Text:     text,
	})
	logger.Info("reconciled", "parse", res.Parse.String(), "step", res.Step, "fields", len(res.Fields), "dropped", res.Dropped)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res.Fields); err != nil {
		logger.Error("encode fields", "error", err)
		os.Exit(1)
	}
}

func generate(logger *slog.Logger, text string, schema fieldschema.Schema) string {
	cfg := common.LoadConfig()
	client := openrouter.NewClient(openrouter.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	if !client.Ready() {
		logger.Warn("llm not configured; using text fallback")
		return ""
	}
	ctx, cancel := common.WithTimeout(context.Background(), cfg.LLM.Timeout)
	defer cancel()
	resp, err := client.Generate(ctx, llm.BuildExtractionPrompt(text, schema, ""), llm.ExtractionMaxTokens(schema))
	if err != nil {
		logger.Warn("llm call failed; using text fallback", "error", err)
		return ""
	}
	return resp
}

func splitFields(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
