package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create executions table
			CREATE TABLE executions (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'paused', 'completed', 'failed')),
				triggered_by VARCHAR(255),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				error TEXT,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CHECK ((finished_at IS NOT NULL) = (status IN ('completed', 'failed')))
			);

			CREATE INDEX idx_executions_workflow_started ON executions(workflow_id, started_at);
			CREATE INDEX idx_executions_status ON executions(status);
		`,
		2: `
			-- Create node_executions table, one row per (execution, node)
			CREATE TABLE node_executions (
				id VARCHAR(64) PRIMARY KEY,
				execution_id VARCHAR(64) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'skipped')),
				attempt INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				input JSONB,
				output JSONB,
				error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT clock_timestamp()
			);

			CREATE UNIQUE INDEX idx_node_executions_unique ON node_executions(execution_id, node_id);
			CREATE INDEX idx_node_executions_node_id ON node_executions(node_id);
		`,
		3: `
			-- Ownership of an execution by the job that runs it
			ALTER TABLE executions
				ADD COLUMN generation INTEGER NOT NULL DEFAULT 0,
				ADD COLUMN released BOOLEAN NOT NULL DEFAULT FALSE;
		`,
	}
}
