package constants

// Table names
const (
	TABLE_CONTACTS              = "contacts"
	TABLE_CALL_RECORDS          = "call_records"
	TABLE_CONVERSATION_RESULTS  = "conversation_results"
	TABLE_CONVERSATION_STATUSES = "conversation_statuses"
	TABLE_CONVERSATION_SCRIPTS  = "conversation_scripts"
	TABLE_TELEPHONY_IDENTITIES  = "telephony_identities"
)

// Gateway sentinels. Models are instructed to emit these verbatim.
const (
	SENTINEL_NONE   = "##NONE##"
	SENTINEL_ABORT  = "##ABORT##"
	SENTINEL_FAILED = "##FAILED##"

	VERIFY_YES   = "YES"
	VERIFY_NO    = "NO"
	VERIFY_ABORT = "ABORT"
)

// Conversation path names every model must define.
const (
	PATH_ENTRY   = "entry"
	PATH_ABORTED = "aborted"
)

const (
	DEFAULT_APOLOGY_TEXT      = "We are sorry, something went wrong. Goodbye."
	DEFAULT_UNAVAILABLE_VALUE = "##UNAVAILABLE##"

	// 8 kHz mono, 20 ms frames
	SAMPLE_RATE       = 8000
	SAMPLES_PER_FRAME = 160
)

const ENV_APP_ENV = "APP_ENV"
