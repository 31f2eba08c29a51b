package pgstore

// DDL for the ocelot tables. Idempotent and applied by Migrate (or the
// `ocelot migrate` command).
const schemaDDL = `-- Relation tuples: the source of truth for access-control facts.
--
-- One row per fact "subject has relation to object in zone". Usersets
-- (group grants) carry a non-empty subject_relation. Rows are upserted
-- on the full tuple key: re-granting refreshes expiry and revision
-- instead of duplicating. created_revision is the zone revision at
-- write time and bounds snapshot-pinned reads.

CREATE TABLE IF NOT EXISTS ocelot_tuples (
    subject_type     VARCHAR NOT NULL,
    subject_id       VARCHAR NOT NULL,
    subject_relation VARCHAR NOT NULL DEFAULT '',
    relation         VARCHAR NOT NULL,
    object_type      VARCHAR NOT NULL,
    object_id        VARCHAR NOT NULL,
    zone_id          VARCHAR NOT NULL,
    expires_at       TIMESTAMPTZ,
    created_revision BIGINT NOT NULL,
    PRIMARY KEY (subject_type, subject_id, subject_relation, relation, object_type, object_id, zone_id)
);

-- Object lookup: the check path reads all tuples for one object and
-- relation across zones (cross-zone-readable relations are stored in
-- the object's zone). Partial on expires_at IS NULL: most tuples never
-- expire, so the index only covers alive rows; expiring rows are
-- re-filtered at query time against now().
CREATE INDEX IF NOT EXISTS idx_ocelot_tuples_object ON ocelot_tuples (object_type, object_id, relation)
WHERE expires_at IS NULL;

-- Reverse subject lookup: membership closure reads every tuple a
-- subject appears in.
CREATE INDEX IF NOT EXISTS idx_ocelot_tuples_subject ON ocelot_tuples (subject_type, subject_id)
WHERE expires_at IS NULL;

-- Zone-scoped object lookup for tenant-wide queries.
CREATE INDEX IF NOT EXISTS idx_ocelot_tuples_zone_object ON ocelot_tuples (zone_id, object_type, object_id)
WHERE expires_at IS NULL;

-- Userset lookup: find group grants on one object type for bitmap
-- materialization.
CREATE INDEX IF NOT EXISTS idx_ocelot_tuples_userset ON ocelot_tuples (subject_type, subject_id, subject_relation, relation, object_type)
WHERE subject_relation <> '' AND expires_at IS NULL;

-- Per-zone revision counters. Incremented with an atomic upsert;
-- concurrency safety comes from PostgreSQL, not from process locks.

CREATE TABLE IF NOT EXISTS ocelot_sequences (
    zone_id  VARCHAR NOT NULL PRIMARY KEY,
    revision BIGINT NOT NULL DEFAULT 0
);

-- Global resource-ID mapping: (type, key) -> dense integer used in
-- bitmaps. IDs are assigned once and never reassigned. Not
-- zone-scoped: a path is the same object regardless of the querying
-- zone. created_revision supports the revision-capped descendant
-- enumeration that pins directory grants.

CREATE TABLE IF NOT EXISTS ocelot_resources (
    resource_type    VARCHAR NOT NULL,
    resource_key     VARCHAR NOT NULL,
    id               BIGINT GENERATED ALWAYS AS IDENTITY,
    created_revision BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (resource_type, resource_key)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ocelot_resources_id ON ocelot_resources (id);

-- Descendant enumeration: resource_key prefix scans ordered by id.
CREATE INDEX IF NOT EXISTS idx_ocelot_resources_prefix ON ocelot_resources (resource_type, resource_key varchar_pattern_ops);

-- Directory grants and their expansion state machine:
-- pending -> in_progress -> {completed, failed}.

CREATE TABLE IF NOT EXISTS ocelot_grants (
    id                   VARCHAR NOT NULL PRIMARY KEY,
    subject_type         VARCHAR NOT NULL,
    subject_id           VARCHAR NOT NULL,
    permission           VARCHAR NOT NULL,
    directory            VARCHAR NOT NULL,
    resource_type        VARCHAR NOT NULL,
    zone_id              VARCHAR NOT NULL,
    grant_revision       BIGINT NOT NULL,
    include_future_files BOOLEAN NOT NULL,
    state                VARCHAR NOT NULL,
    expanded_count       BIGINT NOT NULL DEFAULT 0,
    total_count          BIGINT NOT NULL DEFAULT 0,
    error_message        VARCHAR NOT NULL DEFAULT '',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT chk_ocelot_grant_state CHECK (
        state IN ('pending', 'in_progress', 'completed', 'failed')
    )
);

-- Worker claim: oldest pending grant first.
CREATE INDEX IF NOT EXISTS idx_ocelot_grants_pending ON ocelot_grants (created_at)
WHERE state = 'pending';

-- Ancestor lookup on the check path and new-file registration.
CREATE INDEX IF NOT EXISTS idx_ocelot_grants_directory ON ocelot_grants (zone_id, resource_type, directory);

-- Subject lookup for bitmap materialization.
CREATE INDEX IF NOT EXISTS idx_ocelot_grants_subject ON ocelot_grants (zone_id, resource_type, subject_type, subject_id, permission);

-- Durable key-value cache tier. Tiger Cache entries persisted here
-- survive restarts with their (revision, bitmap) pairing intact.

CREATE TABLE IF NOT EXISTS ocelot_cache (
    cache_key  VARCHAR NOT NULL PRIMARY KEY,
    value      BYTEA NOT NULL,
    expires_at TIMESTAMPTZ
);
`
