package api

const (
	// Generic request/server errors
	CodeRateLimited   = "E_RATE_LIMITED"   // rate limit exceeded
	CodeInternalError = "E_INTERNAL_ERROR" // internal server error

	// Auth errors
	CodeAuthRequired           = "E_AUTH_REQUIRED"            // missing or unparseable credentials
	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS" // token invalid, expired, or malformed

	// Sync errors
	CodeSyncBatchFailed = "E_SYNC_BATCH_FAILED" // the batch could not be applied at all
	CodeSyncValidation  = "E_SYNC_VALIDATION"   // the batch request failed validation

	// Device coordination errors
	CodeDeviceRequired   = "E_DEVICE_REQUIRED"    // request lacks a device id
	CodeDeviceViewFailed = "E_DEVICE_VIEW_FAILED" // presence query failed
)
