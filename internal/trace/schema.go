package trace

const (
	tableTraces = `
		CREATE TABLE IF NOT EXISTS traces (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			metadata_json TEXT
		)`

	tableSteps = `
		CREATE TABLE IF NOT EXISTS trace_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT NOT NULL,
			step_type TEXT NOT NULL,
			step_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`

	triggerPreventStepUpdate = `
		CREATE TRIGGER IF NOT EXISTS prevent_step_update
		BEFORE UPDATE ON trace_steps
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Updates not allowed on trace_steps');
		END`

	triggerPreventStepDelete = `
		CREATE TRIGGER IF NOT EXISTS prevent_step_delete
		BEFORE DELETE ON trace_steps
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Deletes not allowed on trace_steps');
		END`

	indexStepTrace = `
		CREATE INDEX IF NOT EXISTS idx_trace_steps_trace
		ON trace_steps(trace_id, created_at)`
)

func schemaStatements() []string {
	return []string{
		tableTraces,
		tableSteps,
		triggerPreventStepUpdate,
		triggerPreventStepDelete,
		indexStepTrace,
	}
}
