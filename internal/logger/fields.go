package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Standard tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID).
	FieldRequestID = "request_id"

	// FieldVideoID is the source video identifier being ingested.
	FieldVideoID = "video_id"

	// FieldClipPath is the clip artifact path being processed.
	FieldClipPath = "clip_path"

	// FieldComponent is the component/module name.
	FieldComponent = "component"
)

// Standard metric fields, attached at the log-entry level for aggregation.
const (
	// FieldDurationMs is the execution duration in milliseconds.
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field.
	FieldCount = "count"

	// FieldSize is the data size in bytes.
	FieldSize = "size"

	// FieldStatus is the operation status.
	FieldStatus = "status"
)
