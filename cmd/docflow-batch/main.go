package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/app"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/export"
	"github.com/joseph-ayodele/docflow/internal/fieldschema"
	repo "github.com/joseph-ayodele/docflow/internal/repository"
)

// localOwner owns everything a batch run creates when no -owner is given.
var localOwner = uuid.NewSHA1(uuid.NameSpaceOID, []byte("docflow-batch"))

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		sqlite   = flag.String("sqlite", "", "use this SQLite file instead of DB_URL (\":memory:\" for a throwaway database)")
		dir      = flag.String("dir", "", "directory to process documents from (required)")
		out      = flag.String("out", "", "output directory for exports (defaults to <dir>/export)")
		format   = flag.String("format", "xlsx", "export format: xlsx, xml or json")
		ownerStr = flag.String("owner", "", "owner id (defaults to a fixed local owner)")
		typeName = flag.String("type", "Документ", "document type name; created when missing")
		fields   = flag.String("fields", "", "comma separated fields for a new document type, e.g. \"Номер,Дата,table:Товары::Наименование\"")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	exportFormat, err := export.ParseFormat(*format)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	owner := localOwner
	if *ownerStr != "" {
		if owner, err = uuid.Parse(*ownerStr); err != nil {
			printError("Error: invalid --owner: %v\n", err)
			os.Exit(1)
		}
	}
	if *out == "" {
		*out = filepath.Join(*dir, "export")
	}

	cfg := common.LoadConfig()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	if *sqlite != "" {
		cfg.Database.Driver, cfg.Database.DSN, cfg.Database.AutoMigrate = "sqlite", *sqlite, true
		if cfg.Search.Backend == "pgvector" {
			cfg.Search.Backend = "bleve"
		}
		if cfg.Storage.Backend == "s3" && cfg.Storage.AccessKeyID == "" {
			cfg.Storage.Backend = "dir"
		}
	}
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close(ctx)

	dt, err := findOrCreateType(ctx, a.Types, owner, *typeName, splitFields(*fields))
	if err != nil {
		logger.Error("failed to resolve document type", "error", err)
		os.Exit(1)
	}
	logger.Info("using document type", "id", dt.ID, "name", dt.Name, "fields", len(dt.Fields))

	sub, stats, err := a.Ingest.SubmitDirectory(ctx, owner, dt.ID, *dir, true)
	if err != nil {
		logger.Error("failed to submit directory", "error", err)
		os.Exit(1)
	}
	logger.Info("submission complete", "scanned", stats.Scanned, "matched", stats.Matched, "skipped", stats.Skipped)
	if sub == nil {
		fmt.Println("No documents found.")
		return
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		logger.Error("failed to create output directory", "error", err)
		os.Exit(1)
	}

	processed, failures := 0, 0
	for _, h := range sub.Handles {
		if _, err := h.Wait(ctx); err != nil {
			logger.Error("failed to process document", "document_id", h.DocumentID, "error", err)
			failures++
			continue
		}
		f, err := a.Export.Export(ctx, h.DocumentID, &owner, exportFormat)
		if err != nil {
			logger.Error("failed to export document", "document_id", h.DocumentID, "error", err)
			failures++
			continue
		}
		path := filepath.Join(*out, f.Name)
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			logger.Error("failed to write export", "path", path, "error", err)
			failures++
			continue
		}
		processed++
	}

	run, err := a.Runs.Get(ctx, sub.Run.ID)
	runStatus := constants.RunError
	if err == nil {
		runStatus = run.Status
	}
	logger.Info("batch processing complete",
		"run_id", sub.Run.ID,
		"run_status", runStatus,
		"documents", len(sub.Documents),
		"processed", processed,
		"failures", failures,
		"output_dir", *out)

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Documents submitted: %d\n", len(sub.Documents))
	fmt.Printf("- Documents exported: %d\n", processed)
	fmt.Printf("- Failures: %d\n", failures)
	fmt.Printf("- Output: %s\n", *out)
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

func findOrCreateType(ctx context.Context, types repo.DocumentTypeRepository, owner uuid.UUID, name string, fields []string) (*entity.DocumentType, error) {
	existing, err := types.ListByUser(ctx, owner)
	if err != nil {
		return nil, err
	}
	for _, dt := range existing {
		if strings.EqualFold(dt.Name, name) {
			return dt, nil
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("document type %q does not exist; pass --fields to create it", name)
	}
	if err := fieldschema.Validate(fields); err != nil {
		return nil, err
	}
	dt := &entity.DocumentType{UserID: owner, Name: name, Fields: fields}
	if err := types.Create(ctx, dt); err != nil {
		return nil, err
	}
	return dt, nil
}
