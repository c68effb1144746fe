package constants

// Keys used for the structured logging fields.
const (
	LOG_REQUEST_ID     = "request_id"
	LOG_METHOD         = "method"
	LOG_URI            = "uri"
	LOG_USER_AGENT     = "user_agent"
	LOG_REMOTE_ADR     = "remote_addr"
	LOG_USER           = "remote_user"
	LOG_REFERER        = "referer"
	LOG_RUN_ID         = "run_id"
	LOG_PARTICIPANT_ID = "participant_id"
	LOG_REPETITION     = "repetition_index"
)

// Path and query parameters of the REST API.
const (
	PATH_PARAMETER_RUN_ID         = "run_id"
	PATH_PARAMETER_PARTICIPANT_ID = "participant_id"

	QUERY_PARAMETER_SINCE          = "since"
	QUERY_PARAMETER_PARTICIPANT_ID = "participant_id"
	QUERY_PARAMETER_LIMIT          = "limit"
	QUERY_PARAMETER_OFFSET         = "offset"
	QUERY_PARAMETER_STATUS         = "status"

	HEADER_LAST_EVENT_ID = "Last-Event-ID"
	HEADER_REQUEST_ID    = "X-Global-Transaction-Id"
)

const (
	EnvVarTerminationFile = "TERMINATION_FILE"
	EnvVarConfigPath      = "CONFIG_PATH"
)

const (
	DEFAULT_PAGE_LIMIT = 50
	MAX_PAGE_LIMIT     = 500
)
