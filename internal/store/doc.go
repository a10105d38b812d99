// Package store provides SQLite-backed durable storage for recurring items.
//
// Tables:
//   - items: habits and tasks with their streak cache
//   - tags, item_tags: tag references by id
//   - completions, skips: day-granular history
//   - pending_recurrences: snapshots awaiting materialization, and
//     materialized ones kept with materialized_at set
//
// # Invariants enforced in SQL
//
//   - UNIQUE(item_id, day) on completions and on skips
//   - triggers reject a completion on a skipped day and vice versa
//   - UNIQUE(source_item_id, occurrence_index) on pending_recurrences;
//     InsertPending uses ON CONFLICT DO NOTHING and returns the stored row
//   - CHECK(streak_longest >= streak_current)
//
// # Deletes
//
// Foreign keys carry no ON DELETE action. DeleteItem walks
// model.ItemRelationships and applies each rule (cascade or nullify)
// explicitly inside one transaction.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// All list queries order by a stable key (created_at, id COLLATE BINARY)
// so traces are deterministic.
package store
