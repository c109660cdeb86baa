// Package errors provides the coded error type used across brencher.
// It extends Go's standard error handling with stable error codes, optional
// structured context and cause chaining compatible with errors.Is/As.
package errors

// ErrorCode identifies a class of failure.
// Codes are string-based for debuggability and natural JSON serialization.
type ErrorCode string

const (
	// Resource errors.

	// CodeNotFound indicates a requested resource does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeAlreadyExists indicates a resource already exists and cannot be created again.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// Validation errors.

	// CodeInvalidInput indicates the provided input is invalid or malformed.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidConfig indicates a configuration error prevents the operation.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// Repository errors.

	// CodeBranchNotFound indicates a branch could not be resolved in the mirror.
	CodeBranchNotFound ErrorCode = "BRANCH_NOT_FOUND"

	// CodeMergeConflict indicates a merge stopped on conflicting changes.
	CodeMergeConflict ErrorCode = "MERGE_CONFLICT"

	// CodePushFailed indicates the integration branch could not be pushed.
	CodePushFailed ErrorCode = "PUSH_FAILED"

	// CodeNetwork indicates a network operation (fetch, clone, probe) failed.
	CodeNetwork ErrorCode = "NETWORK_ERROR"

	// Execution errors.

	// CodeExecutionFailed indicates a general execution failure.
	CodeExecutionFailed ErrorCode = "EXECUTION_FAILED"

	// CodeBuildFailed indicates the build toolchain failed.
	CodeBuildFailed ErrorCode = "BUILD_FAILED"

	// System errors.

	// CodePersistence indicates the state snapshot could not be loaded or saved.
	CodePersistence ErrorCode = "PERSISTENCE_ERROR"

	// CodeInternal indicates an internal system error occurred.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeUnknown indicates an unknown or unclassified error occurred.
	CodeUnknown ErrorCode = "UNKNOWN"
)
