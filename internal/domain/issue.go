package domain

import (
	"time"

	"github.com/google/uuid"
)

// IssueCode is the closed taxonomy of import findings.
type IssueCode string

const (
	IssueCodeMissingRequiredColumn   IssueCode = "MISSING_REQUIRED_COLUMN"
	IssueCodeInvalidFieldValue       IssueCode = "INVALID_FIELD_VALUE"
	IssueCodeDuplicateMatchingKey    IssueCode = "DUPLICATE_MATCHING_KEY"
	IssueCodeRecordNotFound          IssueCode = "RECORD_NOT_FOUND"
	IssueCodeRowLimitExceeded        IssueCode = "ROW_LIMIT_EXCEEDED"
	IssueCodeFileTooLarge            IssueCode = "FILE_TOO_LARGE"
	IssueCodeInvalidFileFormat       IssueCode = "INVALID_FILE_FORMAT"
	IssueCodeTemplateVersionMismatch IssueCode = "TEMPLATE_VERSION_MISMATCH"
	IssueCodeUnknownError            IssueCode = "UNKNOWN_ERROR"
)

// IssueSeverity separates blocking findings from advisories.
type IssueSeverity string

const (
	IssueSeverityError   IssueSeverity = "ERROR"
	IssueSeverityWarning IssueSeverity = "WARNING"
)

// IssueStage scopes a finding to the pipeline stage that produced it. Issues
// are replaced, never accumulated, each time their stage reruns.
type IssueStage string

const (
	IssueStageParse    IssueStage = "PARSE"
	IssueStageEdit     IssueStage = "EDIT"
	IssueStageValidate IssueStage = "VALIDATE"
	IssueStageSimulate IssueStage = "SIMULATE"
	IssueStageCommit   IssueStage = "COMMIT"
)

// ImportIssue is a structured validation or processing finding attached to a
// batch and optionally to one of its rows.
type ImportIssue struct {
	ID           uuid.UUID     `json:"id"`
	BatchID      uuid.UUID     `json:"batch_id"`
	RowNumber    *int          `json:"row_number,omitempty"`
	FieldPath    *string       `json:"field_path,omitempty"`
	Code         IssueCode     `json:"code"`
	Severity     IssueSeverity `json:"severity"`
	Message      string        `json:"message"`
	SuggestedFix *string       `json:"suggested_fix,omitempty"`
	Stage        IssueStage    `json:"stage"`
	CreatedAt    time.Time     `json:"created_at"`
}

// NewRowIssue builds an issue attached to a specific row and field.
func NewRowIssue(batchID uuid.UUID, rowNumber int, fieldPath string, code IssueCode, severity IssueSeverity, stage IssueStage, message string) ImportIssue {
	issue := ImportIssue{
		ID:        uuid.New(),
		BatchID:   batchID,
		RowNumber: &rowNumber,
		Code:      code,
		Severity:  severity,
		Message:   message,
		Stage:     stage,
		CreatedAt: time.Now(),
	}
	if fieldPath != "" {
		issue.FieldPath = &fieldPath
	}
	return issue
}

// NewBatchIssue builds a batch-level issue with no row attached.
func NewBatchIssue(batchID uuid.UUID, code IssueCode, severity IssueSeverity, stage IssueStage, message string) ImportIssue {
	return ImportIssue{
		ID:        uuid.New(),
		BatchID:   batchID,
		Code:      code,
		Severity:  severity,
		Message:   message,
		Stage:     stage,
		CreatedAt: time.Now(),
	}
}

// WithSuggestedFix returns a copy of the issue carrying a remediation hint.
func (i ImportIssue) WithSuggestedFix(fix string) ImportIssue {
	i.SuggestedFix = &fix
	return i
}
