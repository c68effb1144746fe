package messages

import (
	"fmt"
	"net/http"
	"strings"
)

// This package provides all the error messages that should be reported to the user.
// Note that we add a comment with the message parameters so that it is possible
// to see the parameters in the IDE when creating an error message.
var (
	// API errors that are not run specific

	// MissingPathParameter The path parameter '{{.ParameterName}}' is required.
	MissingPathParameter = createMessage(
		"MISSING_PATH_PARAMETER",
		http.StatusNotFound,
		"The path parameter '{{.ParameterName}}' is required.",
	)

	// ResourceNotFound The {{.Type}} resource {{.ResourceId}} was not found.
	ResourceNotFound = createMessage(
		"RESOURCE_NOT_FOUND",
		http.StatusNotFound,
		"The {{.Type}} resource {{.ResourceId}} was not found.",
	)

	// QueryParameterInvalid The query parameter '{{.ParameterName}}' is not a valid {{.Type}}: '{{.Value}}'.
	QueryParameterInvalid = createMessage(
		"QUERY_PARAMETER_INVALID",
		http.StatusBadRequest,
		"The query parameter '{{.ParameterName}}' is not a valid {{.Type}}: '{{.Value}}'.",
	)

	// HeaderInvalid The header '{{.Header}}' is not a valid {{.Type}}: '{{.Value}}'.
	HeaderInvalid = createMessage(
		"HEADER_INVALID",
		http.StatusBadRequest,
		"The header '{{.Header}}' is not a valid {{.Type}}: '{{.Value}}'.",
	)

	// RequestValidationFailed The request body is invalid: '{{.Error}}'.
	RequestValidationFailed = createMessage(
		"REQUEST_VALIDATION_FAILED",
		http.StatusBadRequest,
		"The request body is invalid: '{{.Error}}'.",
	)

	// Run related errors

	// InvalidRunSpec The run specification is invalid: '{{.Error}}'.
	InvalidRunSpec = createMessage(
		"INVALID_RUN_SPEC",
		http.StatusBadRequest,
		"The run specification is invalid: '{{.Error}}'.",
	)

	// RunNotCompleted The run {{.RunId}} is {{.Status}} and has no aggregate result.
	RunNotCompleted = createMessage(
		"RUN_NOT_COMPLETED",
		http.StatusConflict,
		"The run {{.RunId}} is {{.Status}} and has no aggregate result.",
	)

	// RunNotRunning The run {{.RunId}} is {{.Status}} and can not be cancelled.
	RunNotRunning = createMessage(
		"RUN_NOT_RUNNING",
		http.StatusConflict,
		"The run {{.RunId}} is {{.Status}} and can not be cancelled.",
	)

	// RunFailed The run {{.RunId}} failed: '{{.Error}}'.
	RunFailed = createMessage(
		"RUN_FAILED",
		http.StatusInternalServerError,
		"The run {{.RunId}} failed: '{{.Error}}'.",
	)

	// AggregationUnavailable The aggregate result for the run {{.RunId}} is not available yet.
	AggregationUnavailable = createMessage(
		"AGGREGATION_UNAVAILABLE",
		http.StatusServiceUnavailable,
		"The aggregate result for the run {{.RunId}} is not available yet.",
	)

	// EventsExpired The events of the run {{.RunId}} are no longer available.
	EventsExpired = createMessage(
		"EVENTS_EXPIRED",
		http.StatusGone,
		"The events of the run {{.RunId}} are no longer available.",
	)

	// StreamingUnsupported The connection does not support streaming responses.
	StreamingUnsupported = createMessage(
		"STREAMING_UNSUPPORTED",
		http.StatusInternalServerError,
		"The connection does not support streaming responses.",
	)

	// LogClosed The event log of the run {{.RunId}} is closed.
	LogClosed = createMessage(
		"LOG_CLOSED",
		http.StatusInternalServerError,
		"The event log of the run {{.RunId}} is closed.",
	)

	// InfrastructureFailure The run could not be started: '{{.Error}}'.
	InfrastructureFailure = createMessage(
		"INFRASTRUCTURE_FAILURE",
		http.StatusInternalServerError,
		"The run could not be started: '{{.Error}}'.",
	)

	// Configuration related errors

	// ConfigurationFailed The service startup failed: '{{.Error}}'.
	ConfigurationFailed = createMessage(
		"CONFIGURATION_FAILED",
		http.StatusInternalServerError,
		"The service startup failed: '{{.Error}}'.",
	)

	// JSON errors that are not coming from user input

	// JSONUnmarshalFailed The JSON unmarshalling failed for the {{.Type}}: '{{.Error}}'.
	JSONUnmarshalFailed = createMessage(
		"JSON_UNMARSHAL_FAILED",
		http.StatusInternalServerError,
		"The JSON unmarshalling failed for the {{.Type}}: '{{.Error}}'.",
	)

	// Storage related errors

	// DatabaseOperationFailed The request for the {{.Type}} resource {{.ResourceId}} failed: '{{.Error}}'.
	DatabaseOperationFailed = createMessage(
		"DATABASE_OPERATION_FAILED",
		http.StatusInternalServerError,
		"The request for the {{.Type}} resource {{.ResourceId}} failed: '{{.Error}}'.",
	)
	// QueryFailed The request for the {{.Type}} failed: '{{.Error}}'.
	QueryFailed = createMessage(
		"QUERY_FAILED",
		http.StatusInternalServerError,
		"The request for the {{.Type}} failed: '{{.Error}}'.",
	)

	// InternalServerError An internal server error occurred: '{{.Error}}'.
	InternalServerError = createMessage(
		"INTERNAL_SERVER_ERROR",
		http.StatusInternalServerError,
		"An internal server error occurred: '{{.Error}}'.",
	)

	// MethodNotAllowed The HTTP method {{.Method}} is not allowed for the API {{.Api}}.
	MethodNotAllowed = createMessage(
		"METHOD_NOT_ALLOWED",
		http.StatusMethodNotAllowed,
		"The HTTP method {{.Method}} is not allowed for the API {{.Api}}.",
	)

	// UnknownError An unknown error occurred: '{{.Error}}'. This is a fallback error if the error is not a service error.
	UnknownError = createMessage(
		"UNKNOWN_ERROR",
		http.StatusInternalServerError,
		"An unknown error occurred: {{.Error}}.",
	)
)

type MessageCode struct {
	code   string
	status int
	one    string
}

// GetID returns the stable identifier of the message, this is what clients should match on.
func (m *MessageCode) GetID() string {
	return m.code
}

func (m *MessageCode) GetCode() int {
	return m.status
}

func (m *MessageCode) GetMessage() string {
	return m.one
}

func createMessage(code string, status int, one string) *MessageCode {
	return &MessageCode{
		code,
		status,
		one,
	}
}

func GetErrorMessage(messageCode *MessageCode, messageParams ...any) string {
	msg := messageCode.GetMessage()
	for i := 0; i < len(messageParams); i += 2 {
		param := messageParams[i]
		var paramValue any
		if i+1 < len(messageParams) {
			paramValue = messageParams[i+1]
		} else {
			paramValue = "NOT_DEFINED" // this is a placeholder for a missing parameter value - if you see this value then the code needs to be fixed
		}
		msg = strings.ReplaceAll(msg, fmt.Sprintf("{{.%v}}", param), fmt.Sprintf("%v", paramValue))
	}
	return msg
}
