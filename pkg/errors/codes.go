package errors

import "sync"

// ErrorCodeDefinition defines an error code's properties
type ErrorCodeDefinition struct {
	Code      string   `json:"code"`
	Category  string   `json:"category"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Help      string   `json:"help"`
	Retryable bool     `json:"retryable"`
}

const (
	CodeArtifactExists    = "ART-001"
	CodeArtifactUpload    = "ART-002"
	CodeArtifactDelete    = "ART-003"
	CodeArtifactRead      = "ART-004"
	CodeCaptureUnexpected = "CAP-001"
	CodeCaptureExhausted  = "CAP-002"
	CodeNotifyTransport   = "NTF-001"
	CodeNotifyTemplate    = "NTF-002"
	CodeSessionLoad       = "SES-001"
	CodeSessionSave       = "SES-002"
	CodeConfigInvalid     = "CFG-001"
)

var (
	registry   = newRegistry()
	registryMu sync.RWMutex
)

var defaultCodes = map[string]ErrorCodeDefinition{
	// Artifact store (ART-001 to ART-099)
	CodeArtifactExists: {
		Code:      CodeArtifactExists,
		Category:  "artifact",
		Severity:  SeverityWarning,
		Message:   "artifact already exists",
		Help:      "A new artifact name is generated and the write retried",
		Retryable: true,
	},
	CodeArtifactUpload: {
		Code:      CodeArtifactUpload,
		Category:  "artifact",
		Severity:  SeverityError,
		Message:   "artifact upload failed",
		Help:      "Check the backtrace folder permissions or the backing store connectivity",
		Retryable: true,
	},
	CodeArtifactDelete: {
		Code:     CodeArtifactDelete,
		Category: "artifact",
		Severity: SeverityWarning,
		Message:  "artifact delete failed",
		Help:     "The orphaned artifact is removed by the janitor sweep",
	},
	CodeArtifactRead: {
		Code:     CodeArtifactRead,
		Category: "artifact",
		Severity: SeverityError,
		Message:  "artifact read failed",
	},

	// Capture pipeline (CAP-001 to CAP-099)
	CodeCaptureUnexpected: {
		Code:     CodeCaptureUnexpected,
		Category: "capture",
		Severity: SeverityCritical,
		Message:  "unexpected failure while persisting backtrace",
		Help:     "The failure notification carries the in-memory backtrace",
	},
	CodeCaptureExhausted: {
		Code:     CodeCaptureExhausted,
		Category: "capture",
		Severity: SeverityCritical,
		Message:  "backtrace persistence retries exhausted",
		Help:     "The failure notification carries the in-memory backtrace",
	},

	// Notification (NTF-001 to NTF-099)
	CodeNotifyTransport: {
		Code:     CodeNotifyTransport,
		Category: "notify",
		Severity: SeverityError,
		Message:  "notification transport failed",
		Help:     "Check SMTP credentials or the spool bus",
	},
	CodeNotifyTemplate: {
		Code:     CodeNotifyTemplate,
		Category: "notify",
		Severity: SeverityError,
		Message:  "notification template failed",
	},

	// Session (SES-001 to SES-099)
	CodeSessionLoad: {
		Code:     CodeSessionLoad,
		Category: "session",
		Severity: SeverityError,
		Message:  "session load failed",
	},
	CodeSessionSave: {
		Code:     CodeSessionSave,
		Category: "session",
		Severity: SeverityError,
		Message:  "session save failed",
	},

	// Configuration (CFG-001 to CFG-099)
	CodeConfigInvalid: {
		Code:     CodeConfigInvalid,
		Category: "config",
		Severity: SeverityCritical,
		Message:  "invalid configuration",
	},
}

// Sentinels for errors.Is comparisons.
var (
	ErrAlreadyExists    = sentinel(CodeArtifactExists)
	ErrUploadFailed     = sentinel(CodeArtifactUpload)
	ErrDeleteFailed     = sentinel(CodeArtifactDelete)
	ErrReadFailed       = sentinel(CodeArtifactRead)
	ErrCaptureFatal     = sentinel(CodeCaptureUnexpected)
	ErrRetriesExhausted = sentinel(CodeCaptureExhausted)
	ErrTransport        = sentinel(CodeNotifyTransport)
	ErrTemplate         = sentinel(CodeNotifyTemplate)
	ErrSessionLoad      = sentinel(CodeSessionLoad)
	ErrSessionSave      = sentinel(CodeSessionSave)
	ErrInvalidConfig    = sentinel(CodeConfigInvalid)
)

func newRegistry() map[string]ErrorCodeDefinition {
	r := make(map[string]ErrorCodeDefinition, len(defaultCodes))
	for code, def := range defaultCodes {
		r[code] = def
	}
	return r
}

// Register adds a new error code to the registry
func Register(def ErrorCodeDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[def.Code] = def
}

// Lookup retrieves an error code definition
func Lookup(code string) ErrorCodeDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if def, ok := registry[code]; ok {
		return def
	}

	return ErrorCodeDefinition{
		Code:     code,
		Category: "unknown",
		Severity: SeverityError,
		Message:  "unknown error",
		Help:     "No additional help available for this error code",
	}
}

// AllCodes returns all registered error codes
func AllCodes() map[string]ErrorCodeDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make(map[string]ErrorCodeDefinition, len(registry))
	for k, v := range registry {
		result[k] = v
	}
	return result
}

// CodesByCategory returns all codes in a given category
func CodesByCategory(category string) []ErrorCodeDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var result []ErrorCodeDefinition
	for _, def := range registry {
		if def.Category == category {
			result = append(result, def)
		}
	}
	return result
}
