package store

const schemaDDL = `
CREATE table IF NOT EXISTS {schema}.profiles
(id uuid NOT NULL,
email VARCHAR NOT NULL,
full_name VARCHAR,
avatar_url VARCHAR,
role VARCHAR NOT NULL DEFAULT 'user',
company VARCHAR,
bio TEXT,
sector VARCHAR,
location VARCHAR,
reputation_score INTEGER NOT NULL DEFAULT 0,
verified BOOLEAN NOT NULL DEFAULT false,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(id)
);

CREATE table IF NOT EXISTS {schema}.conversations
(id uuid NOT NULL DEFAULT gen_random_uuid(),
type VARCHAR NOT NULL DEFAULT 'direct',
name VARCHAR,
created_by uuid,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
last_message_at TIMESTAMPTZ,
PRIMARY KEY(id)
);

CREATE table IF NOT EXISTS {schema}.conversation_participants
(id uuid NOT NULL DEFAULT gen_random_uuid(),
conversation_id uuid NOT NULL REFERENCES {schema}.conversations(id) ON DELETE CASCADE,
user_id uuid NOT NULL,
joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
left_at TIMESTAMPTZ,
PRIMARY KEY(id),
UNIQUE(conversation_id, user_id)
);
CREATE index IF NOT EXISTS conversation_participants_user_index ON {schema}.conversation_participants(user_id);

CREATE table IF NOT EXISTS {schema}.messages
(id uuid NOT NULL DEFAULT gen_random_uuid(),
conversation_id uuid NOT NULL REFERENCES {schema}.conversations(id) ON DELETE CASCADE,
sender_id uuid NOT NULL,
content TEXT NOT NULL,
edited BOOLEAN NOT NULL DEFAULT false,
edited_at TIMESTAMPTZ,
deleted BOOLEAN NOT NULL DEFAULT false,
deleted_at TIMESTAMPTZ,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(id)
);
CREATE index IF NOT EXISTS messages_conversation_created_index ON {schema}.messages(conversation_id, created_at);

CREATE table IF NOT EXISTS {schema}.message_reactions
(id uuid NOT NULL DEFAULT gen_random_uuid(),
message_id uuid NOT NULL REFERENCES {schema}.messages(id) ON DELETE CASCADE,
user_id uuid NOT NULL,
emoji VARCHAR NOT NULL,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(id),
UNIQUE(message_id, user_id, emoji)
);

CREATE table IF NOT EXISTS {schema}.message_reads
(message_id uuid NOT NULL REFERENCES {schema}.messages(id) ON DELETE CASCADE,
user_id uuid NOT NULL,
read_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(message_id, user_id)
);

CREATE table IF NOT EXISTS {schema}.attachments
(id uuid NOT NULL DEFAULT gen_random_uuid(),
message_id uuid NOT NULL REFERENCES {schema}.messages(id) ON DELETE CASCADE,
file_name VARCHAR NOT NULL,
file_type VARCHAR NOT NULL,
file_size BIGINT NOT NULL,
storage_key VARCHAR NOT NULL,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(id)
);

CREATE table IF NOT EXISTS {schema}.typing_indicators
(conversation_id uuid NOT NULL REFERENCES {schema}.conversations(id) ON DELETE CASCADE,
user_id uuid NOT NULL,
started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(conversation_id, user_id)
);

CREATE table IF NOT EXISTS {schema}.forum_categories
(id uuid NOT NULL DEFAULT gen_random_uuid(),
name VARCHAR NOT NULL,
description VARCHAR NOT NULL DEFAULT '',
icon VARCHAR,
sort_order INTEGER NOT NULL DEFAULT 0,
archived BOOLEAN NOT NULL DEFAULT false,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(id)
);

CREATE table IF NOT EXISTS {schema}.forum_boards
(id uuid NOT NULL DEFAULT gen_random_uuid(),
category_id uuid NOT NULL REFERENCES {schema}.forum_categories(id) ON DELETE CASCADE,
name VARCHAR NOT NULL,
description VARCHAR NOT NULL DEFAULT '',
sort_order INTEGER NOT NULL DEFAULT 0,
is_private BOOLEAN NOT NULL DEFAULT false,
required_role VARCHAR,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(id)
);

CREATE table IF NOT EXISTS {schema}.forum_threads
(id uuid NOT NULL DEFAULT gen_random_uuid(),
board_id uuid NOT NULL REFERENCES {schema}.forum_boards(id) ON DELETE CASCADE,
author_id uuid NOT NULL,
title VARCHAR NOT NULL,
content TEXT NOT NULL,
is_pinned BOOLEAN NOT NULL DEFAULT false,
is_locked BOOLEAN NOT NULL DEFAULT false,
views_count INTEGER NOT NULL DEFAULT 0,
deleted BOOLEAN NOT NULL DEFAULT false,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
last_post_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(id)
);
CREATE index IF NOT EXISTS forum_threads_board_index ON {schema}.forum_threads(board_id);

CREATE table IF NOT EXISTS {schema}.forum_posts
(id uuid NOT NULL DEFAULT gen_random_uuid(),
thread_id uuid NOT NULL REFERENCES {schema}.forum_threads(id) ON DELETE CASCADE,
author_id uuid NOT NULL,
parent_post_id uuid REFERENCES {schema}.forum_posts(id) ON DELETE SET NULL,
content TEXT NOT NULL,
is_solution BOOLEAN NOT NULL DEFAULT false,
edited BOOLEAN NOT NULL DEFAULT false,
edited_at TIMESTAMPTZ,
deleted BOOLEAN NOT NULL DEFAULT false,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(id)
);
CREATE index IF NOT EXISTS forum_posts_thread_index ON {schema}.forum_posts(thread_id);

CREATE table IF NOT EXISTS {schema}.forum_votes
(id uuid NOT NULL DEFAULT gen_random_uuid(),
thread_id uuid REFERENCES {schema}.forum_threads(id) ON DELETE CASCADE,
post_id uuid REFERENCES {schema}.forum_posts(id) ON DELETE CASCADE,
user_id uuid NOT NULL,
vote_value SMALLINT NOT NULL,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(id)
);
CREATE UNIQUE INDEX IF NOT EXISTS forum_votes_thread_user ON {schema}.forum_votes(thread_id, user_id) WHERE post_id IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS forum_votes_post_user ON {schema}.forum_votes(post_id, user_id) WHERE post_id IS NOT NULL;

CREATE table IF NOT EXISTS {schema}.forum_bookmarks
(id uuid NOT NULL DEFAULT gen_random_uuid(),
thread_id uuid NOT NULL REFERENCES {schema}.forum_threads(id) ON DELETE CASCADE,
user_id uuid NOT NULL,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(id),
UNIQUE(thread_id, user_id)
);

CREATE table IF NOT EXISTS {schema}.reports
(id uuid NOT NULL DEFAULT gen_random_uuid(),
reporter_id uuid NOT NULL,
report_type VARCHAR NOT NULL,
reported_user_id uuid,
message_id uuid,
post_id uuid,
thread_id uuid,
group_id uuid,
reason TEXT NOT NULL,
status VARCHAR NOT NULL DEFAULT 'pending',
reviewed_by uuid,
reviewed_at TIMESTAMPTZ,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(id)
);
CREATE index IF NOT EXISTS reports_status_index ON {schema}.reports(status);

CREATE table IF NOT EXISTS {schema}.moderation_actions
(id uuid NOT NULL DEFAULT gen_random_uuid(),
moderator_id uuid NOT NULL,
target_user_id uuid NOT NULL,
action_type VARCHAR NOT NULL,
report_id uuid REFERENCES {schema}.reports(id) ON DELETE SET NULL,
reason TEXT NOT NULL,
duration_days INTEGER,
expires_at TIMESTAMPTZ,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(id)
);

CREATE table IF NOT EXISTS {schema}.audit_logs
(id uuid NOT NULL DEFAULT gen_random_uuid(),
user_id uuid,
event_type VARCHAR NOT NULL,
resource_type VARCHAR,
resource_id uuid,
details JSONB NOT NULL DEFAULT '{}'::jsonb,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(id)
);

CREATE table IF NOT EXISTS {schema}.notifications
(id uuid NOT NULL DEFAULT gen_random_uuid(),
user_id uuid NOT NULL,
type VARCHAR NOT NULL,
title VARCHAR NOT NULL,
content TEXT,
link VARCHAR,
read BOOLEAN NOT NULL DEFAULT false,
read_at TIMESTAMPTZ,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
PRIMARY KEY(id)
);
CREATE index IF NOT EXISTS notifications_user_created_index ON {schema}.notifications(user_id, created_at);
`
