package repository

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const textSize = math.MaxInt32

const (
	tableDocumentTypes   = "document_types"
	tableRuns            = "processing_runs"
	tableDocuments       = "processed_documents"
	tableTriggers        = "triggers"
	tableDocumentQueries = "document_queries"
	tableCheckpoints     = "task_checkpoints"
)

var (
	// DocumentTypesColumns holds the columns for the "document_types" table.
	DocumentTypesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "user_id", Type: field.TypeUUID},
		{Name: "name", Type: field.TypeString},
		{Name: "description", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "fields", Type: field.TypeJSON},
		{Name: "export_keys", Type: field.TypeJSON, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// DocumentTypesTable holds the schema information for the "document_types" table.
	DocumentTypesTable = &schema.Table{
		Name:       tableDocumentTypes,
		Columns:    DocumentTypesColumns,
		PrimaryKey: []*schema.Column{DocumentTypesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "documenttype_user_id", Columns: []*schema.Column{DocumentTypesColumns[1]}},
		},
	}

	ProcessingRunsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "document_type_id", Type: field.TypeUUID},
		{Name: "user_id", Type: field.TypeUUID},
		{Name: "source", Type: field.TypeString, Default: "manual"},
		{Name: "trigger_name", Type: field.TypeString, Nullable: true},
		{Name: "status", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	ProcessingRunsTable = &schema.Table{
		Name:       tableRuns,
		Columns:    ProcessingRunsColumns,
		PrimaryKey: []*schema.Column{ProcessingRunsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "processing_runs_document_types_runs",
				Columns:    []*schema.Column{ProcessingRunsColumns[1]},
				RefColumns: []*schema.Column{DocumentTypesColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "processingrun_user_id", Columns: []*schema.Column{ProcessingRunsColumns[2]}},
			{Name: "processingrun_document_type_id", Columns: []*schema.Column{ProcessingRunsColumns[1]}},
		},
	}

	ProcessedDocumentsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "processing_run_id", Type: field.TypeUUID},
		{Name: "filename", Type: field.TypeString},
		{Name: "file_path", Type: field.TypeString, Size: 1024},
		{Name: "file_size", Type: field.TypeInt64, Default: 0},
		{Name: "mime_type", Type: field.TypeString, Default: ""},
		{Name: "status", Type: field.TypeString},
		{Name: "error_message", Type: field.TypeString, Size: textSize, Nullable: true},
		{Name: "ocr_result", Type: field.TypeJSON, Nullable: true},
		{Name: "extracted_fields", Type: field.TypeJSON, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	ProcessedDocumentsTable = &schema.Table{
		Name:       tableDocuments,
		Columns:    ProcessedDocumentsColumns,
		PrimaryKey: []*schema.Column{ProcessedDocumentsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "processed_documents_processing_runs_documents",
				Columns:    []*schema.Column{ProcessedDocumentsColumns[1]},
				RefColumns: []*schema.Column{ProcessingRunsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "processeddocument_processing_run_id", Columns: []*schema.Column{ProcessedDocumentsColumns[1]}},
		},
	}

	TriggersColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "user_id", Type: field.TypeUUID},
		{Name: "enabled", Type: field.TypeBool, Default: true},
		{Name: "folder", Type: field.TypeString, Size: 1024},
		{Name: "processed_files", Type: field.TypeJSON},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	TriggersTable = &schema.Table{
		Name:       tableTriggers,
		Columns:    TriggersColumns,
		PrimaryKey: []*schema.Column{TriggersColumns[0]},
		Indexes: []*schema.Index{
			{Name: "trigger_user_id", Columns: []*schema.Column{TriggersColumns[1]}},
		},
	}

	DocumentQueriesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "document_id", Type: field.TypeUUID},
		{Name: "user_id", Type: field.TypeUUID},
		{Name: "question", Type: field.TypeString, Size: textSize},
		{Name: "answer", Type: field.TypeString, Size: textSize, Default: ""},
		{Name: "error", Type: field.TypeString, Size: textSize, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	DocumentQueriesTable = &schema.Table{
		Name:       tableDocumentQueries,
		Columns:    DocumentQueriesColumns,
		PrimaryKey: []*schema.Column{DocumentQueriesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "document_queries_processed_documents_queries",
				Columns:    []*schema.Column{DocumentQueriesColumns[1]},
				RefColumns: []*schema.Column{ProcessedDocumentsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "documentquery_document_id_user_id", Columns: []*schema.Column{DocumentQueriesColumns[1], DocumentQueriesColumns[2]}},
		},
	}

	TaskCheckpointsColumns = []*schema.Column{
		{Name: "document_id", Type: field.TypeUUID},
		{Name: "stage", Type: field.TypeString, Default: ""},
		{Name: "attempt", Type: field.TypeInt, Default: 0},
		{Name: "document_type_id", Type: field.TypeUUID, Nullable: true},
		{Name: "ocr", Type: field.TypeJSON, Nullable: true},
		{Name: "fields", Type: field.TypeJSON, Nullable: true},
		{Name: "last_error", Type: field.TypeString, Size: textSize, Nullable: true},
		{Name: "updated_at", Type: field.TypeTime},
	}
	TaskCheckpointsTable = &schema.Table{
		Name:       tableCheckpoints,
		Columns:    TaskCheckpointsColumns,
		PrimaryKey: []*schema.Column{TaskCheckpointsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "task_checkpoints_processed_documents_checkpoint",
				Columns:    []*schema.Column{TaskCheckpointsColumns[0]},
				RefColumns: []*schema.Column{ProcessedDocumentsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
	}

	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		DocumentTypesTable,
		ProcessingRunsTable,
		ProcessedDocumentsTable,
		TriggersTable,
		DocumentQueriesTable,
		TaskCheckpointsTable,
	}
)

func init() {
	ProcessingRunsTable.ForeignKeys[0].RefTable = DocumentTypesTable
	ProcessedDocumentsTable.ForeignKeys[0].RefTable = ProcessingRunsTable
	DocumentQueriesTable.ForeignKeys[0].RefTable = ProcessedDocumentsTable
	TaskCheckpointsTable.ForeignKeys[0].RefTable = ProcessedDocumentsTable
}

// Migrate creates or updates all tables. Additive only: columns and indexes are never dropped.
func Migrate(ctx context.Context, c *Client, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("db.migrate.start", "dialect", c.dialect, "tables", len(Tables))
	m, err := schema.NewMigrate(c.driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		logger.Error("db.migrate.failed", "error", err)
		return fmt.Errorf("migrate schema: %w", err)
	}
	logger.Info("db.migrate.ok")
	return nil
}
