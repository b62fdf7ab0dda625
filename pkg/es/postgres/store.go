package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eriklieben/es-go/pkg/es"
)

// Store implements es.DataStore (C1) against the `events` table, also
// registering this package's backend-error classifier for C12's retry
// policy. Mirrors the teacher's single `eventStore` struct
// (pkg/dcb/postgres/store.go), generalized from one flat table to a
// per-stream-scoped one; the other backend contracts live in their own
// types in this package (see DESIGN.md).
type Store struct {
	pool *pgxpool.Pool
	cfg  Config
}

// New opens a Store against pool, validating or creating the schema
// depending on cfg.AutoCreateContainers (spec.md §6 "autoCreateContainers").
func New(ctx context.Context, pool *pgxpool.Pool, cfg Config) (*Store, error) {
	if pool == nil {
		return nil, &es.ValidationError{
			EventStoreError: es.EventStoreError{Op: "New", Err: fmt.Errorf("pool must not be nil")},
			Field:           "pool",
			Value:           "nil",
		}
	}
	cfg = cfg.withDefaults()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	if cfg.AutoCreateContainers {
		if err := ensureSchema(ctx, pool); err != nil {
			return nil, err
		}
	} else if err := validateTablesExist(ctx, pool); err != nil {
		return nil, err
	}

	RegisterClassifier()
	return &Store{pool: pool, cfg: cfg}, nil
}

// Append implements es.DataStore (spec.md §4.1 "Algorithm — append").
func (s *Store) Append(ctx context.Context, document es.Document, preserveTimestamp bool, events []es.InputEvent) error {
	if len(events) == 0 {
		return &es.ValidationError{
			EventStoreError: es.EventStoreError{Op: "append", Err: fmt.Errorf("events must not be empty")},
			Field:           "events",
			Value:           "empty",
		}
	}

	streamID := document.Active.StreamIdentifier

	// Steps 2-3: consult, then populate, the process-local closed-stream cache.
	if es.IsStreamClosedInCache(streamID) {
		return &es.StreamClosedError{EventStoreError: es.EventStoreError{Op: "append"}, StreamID: streamID}
	}
	closed, _, err := s.Closed(ctx, document)
	if err != nil {
		return err
	}
	if closed {
		es.MarkStreamClosedInCache(streamID)
		return &es.StreamClosedError{EventStoreError: es.EventStoreError{Op: "append"}, StreamID: streamID}
	}

	if len(events) <= s.cfg.MaxBatchSize {
		return s.appendBatch(ctx, streamID, document.Active.CurrentVersion, preserveTimestamp, events)
	}

	// Step 5: split into sequential batches; a failure of batch n leaves
	// 0..n-1 persisted, recoverable via RemoveEventsForFailedCommit.
	startVersion := document.Active.CurrentVersion
	for offset := 0; offset < len(events); offset += s.cfg.MaxBatchSize {
		end := offset + s.cfg.MaxBatchSize
		if end > len(events) {
			end = len(events)
		}
		if err := s.appendBatch(ctx, streamID, startVersion+int64(offset), preserveTimestamp, events[offset:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appendBatch(ctx context.Context, streamID string, startVersion int64, preserveTimestamp bool, events []es.InputEvent) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("append: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// preserveTimestamp has no effect here: InputEvent carries no source
	// timestamp to preserve, unlike a replicated/migrated event.
	_ = preserveTimestamp
	occurredAt := time.Now().UTC()
	for i, event := range events {
		version := startVersion + 1 + int64(i)
		ttl := s.effectiveTTL(event.TTL)
		_, err := tx.Exec(ctx, `
			INSERT INTO events (stream_id, version, event_type, schema_version, payload, occurred_at, correlation_id, causation_id, external_sequencer, ttl_seconds)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			streamID, version, event.EventType, event.SchemaVersion, event.Payload, occurredAt,
			event.CorrelationID, event.CausationID, event.ExternalSequencer, ttl)
		if err != nil {
			if classify(err) == es.StatusConflict {
				return &es.ConcurrencyError{
					EventStoreError: es.EventStoreError{Op: "append", Err: err},
					ExpectedVersion: version,
				}
			}
			return fmt.Errorf("append: insert event %d: %w", version, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if classify(err) == es.StatusConflict {
			return &es.ConcurrencyError{EventStoreError: es.EventStoreError{Op: "append", Err: err}}
		}
		return fmt.Errorf("append: commit: %w", err)
	}
	return nil
}

func (s *Store) effectiveTTL(ttl *int64) *int64 {
	if ttl != nil {
		return ttl
	}
	if s.cfg.DefaultTimeToLiveSeconds < 0 {
		return nil
	}
	v := int64(s.cfg.DefaultTimeToLiveSeconds)
	return &v
}

// Read implements es.DataStore (spec.md §4.1 "Algorithm — read"). When
// options.PageSize is set, it is applied as a SQL LIMIT so a paged caller
// (ReadAsStream's pageIterator) fetches only one page's worth of rows per
// round trip, rather than the entire remaining range (spec.md §9 "page
// internally").
func (s *Store) Read(ctx context.Context, document es.Document, startVersion int64, options *es.ReadOptions) ([]es.Event, error) {
	streamID := document.Active.StreamIdentifier
	untilVersion := int64(-1)
	pageSize := 0
	if options != nil {
		if options.UntilVersion != nil {
			untilVersion = *options.UntilVersion
		}
		pageSize = options.PageSize
	}

	query := `
		SELECT stream_id, version, event_type, schema_version, payload, occurred_at, correlation_id, causation_id, external_sequencer, ttl_seconds
		FROM events
		WHERE stream_id = $1 AND version >= $2 AND event_type != $3`
	args := []any{streamID, startVersion, es.CloseSentinelType}
	if untilVersion >= 0 {
		args = append(args, untilVersion)
		query += fmt.Sprintf(" AND version <= $%d", len(args))
	}
	query += " ORDER BY version"
	if pageSize > 0 {
		args = append(args, pageSize)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	defer rows.Close()

	var events []es.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("read: scan: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (es.Event, error) {
	var event es.Event
	var ttl *int64
	if err := row.Scan(&event.StreamID, &event.Version, &event.EventType, &event.SchemaVersion, &event.Payload,
		&event.Timestamp, &event.CorrelationID, &event.CausationID, &event.ExternalSequencer, &ttl); err != nil {
		return es.Event{}, err
	}
	event.TTL = ttl
	return event, nil
}

// pageIterator is the paged es.EventIterator backing ReadAsStream (spec.md
// §9 "Streaming reads should yield one event at a time and page internally").
type pageIterator struct {
	store     *Store
	document  es.Document
	nextVer   int64
	until     int64
	pageSize  int
	buffer    []es.Event
	bufferIdx int
	current   es.Event
	err       error
	exhausted bool
}

// ReadAsStream implements es.DataStore's incremental counterpart to Read.
func (s *Store) ReadAsStream(ctx context.Context, document es.Document, startVersion int64, options *es.ReadOptions) (es.EventIterator, error) {
	pageSize := s.cfg.StreamingPageSize
	until := int64(-1)
	if options != nil {
		if options.PageSize > 0 {
			pageSize = options.PageSize
		}
		if options.UntilVersion != nil {
			until = *options.UntilVersion
		}
	}
	return &pageIterator{store: s, document: document, nextVer: startVersion, until: until, pageSize: pageSize}, nil
}

func (it *pageIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.exhausted {
		return false
	}
	if it.bufferIdx >= len(it.buffer) {
		if err := it.fetchPage(ctx); err != nil {
			it.err = err
			return false
		}
		if len(it.buffer) == 0 {
			it.exhausted = true
			return false
		}
	}
	it.current = it.buffer[it.bufferIdx]
	it.bufferIdx++
	it.nextVer = it.current.Version + 1
	return true
}

func (it *pageIterator) fetchPage(ctx context.Context) error {
	opts := &es.ReadOptions{PageSize: it.pageSize}
	if it.until >= 0 {
		until := it.until
		opts.UntilVersion = &until
	}
	// Read now applies PageSize as a SQL LIMIT, so this round trip only ever
	// fetches one page's worth of rows, not the entire remaining range.
	page, err := it.store.Read(ctx, it.document, it.nextVer, opts)
	if err != nil {
		return err
	}
	it.buffer = page
	it.bufferIdx = 0
	return nil
}

func (it *pageIterator) Event() es.Event { return it.current }
func (it *pageIterator) Err() error      { return it.err }
func (it *pageIterator) Close() error    { return nil }

// Closed implements es.DataStore's dedicated closure-observation predicate
// (spec.md §4.1 "consumers that must observe closure read with a separate
// predicate").
func (s *Store) Closed(ctx context.Context, document es.Document) (bool, *es.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT stream_id, version, event_type, schema_version, payload, occurred_at, correlation_id, causation_id, external_sequencer, ttl_seconds
		FROM events
		WHERE stream_id = $1 AND event_type = $2
		LIMIT 1`, document.Active.StreamIdentifier, es.CloseSentinelType)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("closed: %w", err)
	}
	return true, &event, nil
}

// RemoveEventsForFailedCommit implements es.DataStore's best-effort cleanup
// of a partially-committed multi-batch append (spec.md §4.1 step 5).
func (s *Store) RemoveEventsForFailedCommit(ctx context.Context, document es.Document, fromVersion, toVersion int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM events WHERE stream_id = $1 AND version >= $2 AND version <= $3 AND event_type != $4`,
		document.Active.StreamIdentifier, fromVersion, toVersion, es.CloseSentinelType)
	if err != nil {
		return 0, fmt.Errorf("removeEventsForFailedCommit: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// marshalJSON and unmarshalJSON are small helpers shared by the other
// backend files for encoding/decoding structured columns (active stream
// info, terminated streams, tokens) as jsonb.
func marshalJSON(v any) ([]byte, error) { return json.Marshal(v) }

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
