package postgresql

// migrations returns the schema migrations for the funnel store, keyed by
// version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS funnels (
				id TEXT PRIMARY KEY,
				company_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT FALSE,
				graph JSONB NOT NULL DEFAULT '{"nodes":[],"connections":[]}',
				stats JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_funnels_company_active
				ON funnels (company_id, active);

			CREATE TABLE IF NOT EXISTS contacts (
				id TEXT PRIMARY KEY,
				company_id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT '',
				email TEXT NOT NULL DEFAULT '',
				source TEXT NOT NULL DEFAULT '',
				tags JSONB NOT NULL DEFAULT '[]',
				temperature TEXT NOT NULL DEFAULT '',
				custom_fields JSONB NOT NULL DEFAULT '{}',
				lead_score INTEGER NOT NULL DEFAULT 0,
				last_inbound_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_contacts_company_last_inbound
				ON contacts (company_id, last_inbound_at);

			CREATE TABLE IF NOT EXISTS messaging_instances (
				id TEXT PRIMARY KEY,
				company_id TEXT NOT NULL,
				instance_name TEXT NOT NULL,
				token TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_messaging_instances_company
				ON messaging_instances (company_id);

			CREATE TABLE IF NOT EXISTS funnel_executions (
				id TEXT PRIMARY KEY,
				funnel_id TEXT NOT NULL REFERENCES funnels (id),
				contact_id TEXT NOT NULL REFERENCES contacts (id),
				current_node_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				context JSONB NOT NULL DEFAULT '{}',
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				completed_at TIMESTAMP WITH TIME ZONE,
				last_action_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_executions_waiting
				ON funnel_executions (status, last_action_at);

			CREATE INDEX IF NOT EXISTS idx_executions_funnel_contact
				ON funnel_executions (funnel_id, contact_id, status);

			CREATE TABLE IF NOT EXISTS funnel_action_logs (
				id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL REFERENCES funnel_executions (id),
				node_id TEXT NOT NULL,
				node_type TEXT NOT NULL,
				status TEXT NOT NULL,
				input JSONB NOT NULL DEFAULT '{}',
				output JSONB NOT NULL DEFAULT '{}',
				error_message TEXT NOT NULL DEFAULT '',
				duration_ms BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_action_logs_execution
				ON funnel_action_logs (execution_id, created_at);
		`,
	}
}
