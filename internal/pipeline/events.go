package pipeline

// Stage names one staged-progress notification. Events are emitted strictly
// in pipeline order and a stream terminates after StageResultReady or
// StageError.
type Stage string

const (
	StageRequestReceived Stage = "request_received"
	StageSchemaConfirmed Stage = "schema_confirmed"
	StageSQLGenerated    Stage = "sql_generated"
	StageQueryExecuting  Stage = "query_executing"
	StageQueryCompleted  Stage = "query_completed"
	StageResultReady     Stage = "result_ready"
	StageError           Stage = "error"
)

// Event is one staged notification carrying that stage's intermediate
// artifact.
type Event struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Listener observes staged events. The pipeline's correctness never depends
// on whether anyone is listening; a nil listener is valid.
type Listener func(Event)

func (l Listener) emit(stage Stage, message string, data any) {
	if l == nil {
		return
	}
	l(Event{Stage: stage, Message: message, Data: data})
}
