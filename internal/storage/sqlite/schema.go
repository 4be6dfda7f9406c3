package sqlite

// schema is the database schema, applied on every open. CREATE IF NOT
// EXISTS keeps it idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS sprints (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	name TEXT NOT NULL CHECK(length(name) <= 200),
	status TEXT NOT NULL DEFAULT 'planned' CHECK(status IN ('planned', 'active', 'completed')),
	start_date DATETIME NOT NULL,
	end_date DATETIME NOT NULL,
	version INTEGER NOT NULL DEFAULT 1 CHECK(version >= 1),
	created_at DATETIME NOT NULL,
	created_by TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	updated_by TEXT NOT NULL,
	CHECK(end_date > start_date)
);

CREATE INDEX IF NOT EXISTS idx_sprints_project ON sprints(project_id);

CREATE TABLE IF NOT EXISTS work_items (
	id TEXT PRIMARY KEY,
	item_type TEXT NOT NULL CHECK(item_type IN ('project', 'epic', 'story', 'task')),
	parent_id TEXT REFERENCES work_items(id),
	project_id TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL CHECK(length(title) <= 500),
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'backlog' CHECK(status IN ('backlog', 'todo', 'in_progress', 'in_review', 'done')),
	priority TEXT NOT NULL DEFAULT 'medium' CHECK(priority IN ('low', 'medium', 'high', 'urgent')),
	assignee_id TEXT,
	sprint_id TEXT REFERENCES sprints(id) ON DELETE SET NULL,
	story_points INTEGER,
	version INTEGER NOT NULL DEFAULT 1 CHECK(version >= 1),
	created_at DATETIME NOT NULL,
	created_by TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	updated_by TEXT NOT NULL,
	deleted_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_work_items_project ON work_items(project_id, deleted_at);
CREATE INDEX IF NOT EXISTS idx_work_items_parent ON work_items(parent_id);
CREATE INDEX IF NOT EXISTS idx_work_items_sprint ON work_items(sprint_id);

CREATE TABLE IF NOT EXISTS comments (
	id TEXT PRIMARY KEY,
	work_item_id TEXT NOT NULL REFERENCES work_items(id) ON DELETE CASCADE,
	project_id TEXT NOT NULL,
	author_id TEXT NOT NULL,
	content TEXT NOT NULL CHECK(length(content) <= 10000),
	version INTEGER NOT NULL DEFAULT 1 CHECK(version >= 1),
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	deleted_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_comments_work_item ON comments(work_item_id, deleted_at);

-- The autoincrement id doubles as the pagination cursor: it is assigned
-- in commit order, so paging by id never skips or duplicates entries.
CREATE TABLE IF NOT EXISTS activity_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	entity_type TEXT NOT NULL CHECK(entity_type IN ('work_item', 'sprint', 'comment')),
	entity_id TEXT NOT NULL,
	action TEXT NOT NULL CHECK(action IN ('created', 'updated', 'deleted')),
	changes TEXT,
	actor_id TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_project_id ON activity_log(project_id, id DESC);
`
