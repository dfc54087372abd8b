package archive

// schemaCurrent is the full schema created on a fresh archive. Older files
// are brought here step by step through the migrations table in migrate.go;
// the two paths must agree on the final shape.
const schemaCurrent = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    name          TEXT NOT NULL,
    avatar_url    TEXT,
    discriminator TEXT
);

CREATE TABLE IF NOT EXISTS servers (
    id   INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'server' CHECK(type IN ('server','group','dm'))
);

CREATE TABLE IF NOT EXISTS channels (
    id        INTEGER PRIMARY KEY,
    server    INTEGER NOT NULL,
    name      TEXT NOT NULL,
    parent_id INTEGER,
    position  INTEGER,
    topic     TEXT,
    nsfw      INTEGER
);

CREATE TABLE IF NOT EXISTS messages (
    id        INTEGER PRIMARY KEY,
    sender    INTEGER NOT NULL,
    channel   INTEGER NOT NULL,
    text      TEXT NOT NULL,
    timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS edit_timestamps (
    message_id     INTEGER PRIMARY KEY,
    edit_timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS replied_to (
    message_id    INTEGER PRIMARY KEY,
    replied_to_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS attachments (
    attachment_id  INTEGER PRIMARY KEY,
    message_id     INTEGER NOT NULL,
    name           TEXT NOT NULL,
    type           TEXT,
    normalized_url TEXT NOT NULL,
    download_url   TEXT NOT NULL,
    size           INTEGER NOT NULL,
    width          INTEGER,
    height         INTEGER
);
CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);

CREATE TABLE IF NOT EXISTS embeds (
    message_id INTEGER NOT NULL,
    json       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeds_message ON embeds(message_id);

CREATE TABLE IF NOT EXISTS reactions (
    message_id  INTEGER NOT NULL,
    emoji_id    INTEGER,
    emoji_name  TEXT,
    emoji_flags INTEGER NOT NULL DEFAULT 0,
    count       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reactions_message ON reactions(message_id);

CREATE TABLE IF NOT EXISTS polls (
    message_id       INTEGER PRIMARY KEY,
    question         TEXT NOT NULL,
    multi_select     INTEGER NOT NULL,
    expiry_timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS poll_answers (
    message_id  INTEGER NOT NULL,
    answer_id   INTEGER NOT NULL,
    text        TEXT NOT NULL,
    emoji_id    INTEGER,
    emoji_name  TEXT,
    emoji_flags INTEGER,
    PRIMARY KEY (message_id, answer_id)
);

CREATE TABLE IF NOT EXISTS download_metadata (
    normalized_url TEXT PRIMARY KEY,
    download_url   TEXT NOT NULL,
    status         INTEGER NOT NULL,
    type           TEXT,
    size           INTEGER
);

CREATE TABLE IF NOT EXISTS download_blobs (
    normalized_url TEXT PRIMARY KEY
                   REFERENCES download_metadata(normalized_url)
                   ON UPDATE CASCADE ON DELETE CASCADE,
    blob           BLOB NOT NULL
);
`

// Per-step upgrade DDL. Each step assumes exactly the shape the previous
// step left behind and runs inside its own transaction.

const migration1to2 = `
CREATE TABLE embeds (
    message_id INTEGER NOT NULL,
    json       TEXT NOT NULL
);
CREATE INDEX idx_embeds_message ON embeds(message_id);
`

const migration2to3 = `
CREATE TABLE reactions (
    message_id INTEGER NOT NULL,
    emoji_id   INTEGER,
    emoji_name TEXT,
    count      INTEGER NOT NULL
);
CREATE INDEX idx_reactions_message ON reactions(message_id);
`

const migration3to4 = `
CREATE TABLE download_metadata (
    normalized_url TEXT PRIMARY KEY,
    download_url   TEXT NOT NULL,
    status         INTEGER NOT NULL,
    type           TEXT,
    size           INTEGER
);
CREATE TABLE download_blobs (
    normalized_url TEXT PRIMARY KEY
                   REFERENCES download_metadata(normalized_url)
                   ON UPDATE CASCADE ON DELETE CASCADE,
    blob           BLOB NOT NULL
);
`

// 4→5 splits the single url column into download_url (verbatim) and
// normalized_url (dedup key) and adds image dimensions. Existing rows keep
// the verbatim URL in both columns; re-ingest refreshes the normalized form.
const migration4to5 = `
CREATE TABLE attachments_v5 (
    attachment_id  INTEGER PRIMARY KEY,
    message_id     INTEGER NOT NULL,
    name           TEXT NOT NULL,
    type           TEXT,
    normalized_url TEXT NOT NULL,
    download_url   TEXT NOT NULL,
    size           INTEGER NOT NULL,
    width          INTEGER,
    height         INTEGER
);
INSERT INTO attachments_v5 (attachment_id, message_id, name, type, normalized_url, download_url, size)
    SELECT attachment_id, message_id, name, type, url, url, size FROM attachments;
DROP TABLE attachments;
ALTER TABLE attachments_v5 RENAME TO attachments;
CREATE INDEX idx_attachments_message ON attachments(message_id);
`

// 5→6 rebuilds servers to gain the CHECK-constrained type tag and widens
// channels with hierarchy and metadata columns.
const migration5to6 = `
CREATE TABLE servers_v6 (
    id   INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'server' CHECK(type IN ('server','group','dm'))
);
INSERT INTO servers_v6 (id, name) SELECT id, name FROM servers;
DROP TABLE servers;
ALTER TABLE servers_v6 RENAME TO servers;
ALTER TABLE channels ADD COLUMN parent_id INTEGER;
ALTER TABLE channels ADD COLUMN position INTEGER;
ALTER TABLE channels ADD COLUMN topic TEXT;
ALTER TABLE channels ADD COLUMN nsfw INTEGER;
`

const migration6to7 = `
CREATE TABLE polls (
    message_id       INTEGER PRIMARY KEY,
    question         TEXT NOT NULL,
    multi_select     INTEGER NOT NULL,
    expiry_timestamp INTEGER NOT NULL
);
CREATE TABLE poll_answers (
    message_id  INTEGER NOT NULL,
    answer_id   INTEGER NOT NULL,
    text        TEXT NOT NULL,
    emoji_id    INTEGER,
    emoji_name  TEXT,
    emoji_flags INTEGER,
    PRIMARY KEY (message_id, answer_id)
);
`

const migration7to8 = `
ALTER TABLE reactions ADD COLUMN emoji_flags INTEGER NOT NULL DEFAULT 0;
ALTER TABLE users ADD COLUMN discriminator TEXT;
`
