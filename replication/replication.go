// Package replication mirrors Postgres tables into the catalog by following a
// pgoutput logical replication stream.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"

	"arctic-iceberg/catalog"
	"arctic-iceberg/config"
	"arctic-iceberg/metrics"
	"arctic-iceberg/partition"
	"arctic-iceberg/schema"
	"arctic-iceberg/storage"
	"arctic-iceberg/writer"
)

const standbyStatusInterval = 10 * time.Second

type Replicator struct {
	pg      config.PostgresConfig
	tables  []config.TableConfig
	catalog *catalog.Catalog
	storage storage.Storage
	writer  *writer.Writer
	logger  *slog.Logger

	schemas   *schema.Manager
	typeMap   *pgtype.Map
	relations map[uint32]*pglogrepl.RelationMessageV2
	mirrored  map[string]bool

	// Rows of in-progress streamed transactions, keyed by top-level xid.
	// They reach the writer only on the stream commit.
	inStream  bool
	streamXid uint32
	streamed  map[uint32][]streamedRow
}

type streamedRow struct {
	xid   uint32
	table string
	row   map[string]any
}

func NewReplicator(cfg *config.Config, cat *catalog.Catalog, s storage.Storage, w *writer.Writer, logger *slog.Logger) *Replicator {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Replicator{
		pg:        cfg.Postgres,
		tables:    cfg.Tables,
		catalog:   cat,
		storage:   s,
		writer:    w,
		logger:    logger.With("component", "replication"),
		typeMap:   pgtype.NewMap(),
		relations: make(map[uint32]*pglogrepl.RelationMessageV2),
		mirrored:  make(map[string]bool, len(cfg.Tables)),
		streamed:  make(map[uint32][]streamedRow),
	}
	for _, t := range cfg.Tables {
		r.mirrored[t.TableName()] = true
	}
	return r
}

// Start mirrors the configured tables until ctx is cancelled, reconnecting
// with exponential backoff when the stream breaks.
func (r *Replicator) Start(ctx context.Context) error {
	dbConn, err := pgx.Connect(ctx, r.pg.DSN(false))
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer dbConn.Close(context.Background())

	r.schemas = schema.NewManager(dbConn)
	for _, t := range r.tables {
		if err := r.ensureTable(ctx, t); err != nil {
			return fmt.Errorf("preparing %s: %w", t.TableName(), err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0
	notify := func(err error, wait time.Duration) {
		r.logger.Error("replication stream lost, reconnecting", "error", err, "wait", wait)
	}
	err = backoff.RetryNotify(func() error {
		err := r.stream(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(policy, ctx), notify)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ensureTable creates the catalog table of a source relation unless it exists.
func (r *Replicator) ensureTable(ctx context.Context, t config.TableConfig) error {
	ts, err := r.schemas.InitializeSchema(ctx, t.Schema, t.Name)
	if err != nil {
		return err
	}
	_, err = r.catalog.LoadTable(ctx, t.TableName())
	if err == nil {
		return nil
	}
	if !errors.Is(err, catalog.ErrNoSuchTable) {
		return err
	}

	s, err := ts.IcebergSchema()
	if err != nil {
		return fmt.Errorf("mapping columns: %w", err)
	}
	fields, err := partitionFields(s, t.Partition)
	if err != nil {
		return err
	}
	md, err := catalog.NewTableMetadata(catalog.TableSpec{
		Location:  r.storage.Location(t.TableName()),
		Schema:    s,
		Partition: fields,
	})
	if err != nil {
		return err
	}
	if _, err := r.catalog.CreateTable(ctx, t.TableName(), md); err != nil && !errors.Is(err, catalog.ErrTableExists) {
		return err
	}
	return nil
}

func partitionFields(s *schema.Schema, cfg []config.PartitionConfig) ([]partition.Field, error) {
	fields := make([]partition.Field, 0, len(cfg))
	for _, p := range cfg {
		src, ok := s.FieldByName(p.Source)
		if !ok {
			return nil, fmt.Errorf("partition source column %q: %w", p.Source, partition.ErrUnknownSourceField)
		}
		t, ok := partition.Resolve(p.Transform)
		if !ok {
			return nil, fmt.Errorf("unknown partition transform %q", p.Transform)
		}
		fields = append(fields, partition.NewField(src.ID, p.PartitionName(), t))
	}
	return fields, nil
}

func (r *Replicator) stream(ctx context.Context) error {
	conn, err := pgconn.Connect(ctx, r.pg.DSN(true))
	if err != nil {
		return fmt.Errorf("connecting for replication: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	startLSN, err := r.createReplicationSlot(ctx, conn)
	if err != nil {
		return err
	}

	err = pglogrepl.StartReplication(ctx, conn, r.pg.Slot, startLSN, pglogrepl.StartReplicationOptions{
		PluginArgs: []string{
			"proto_version '2'",
			"messages 'true'",
			"streaming 'true'",
			fmt.Sprintf("publication_names '%s'", r.pg.Publication),
		},
	})
	if err != nil {
		return fmt.Errorf("starting replication: %w", err)
	}
	r.logger.Info("replication started", "slot", r.pg.Slot, "publication", r.pg.Publication, "lsn", startLSN)

	// A new stream replays every transaction that was not committed yet.
	r.inStream = false
	clear(r.streamed)

	return r.receive(ctx, conn, startLSN)
}

func (r *Replicator) createReplicationSlot(ctx context.Context, conn *pgconn.PgConn) (pglogrepl.LSN, error) {
	result, err := pglogrepl.CreateReplicationSlot(ctx, conn, r.pg.Slot, "pgoutput", pglogrepl.CreateReplicationSlotOptions{
		Temporary: true,
		Mode:      pglogrepl.LogicalReplication,
	})
	if err != nil {
		var pgerr *pgconn.PgError
		// duplicate_object: the slot survived from an earlier connection.
		if errors.As(err, &pgerr) && pgerr.Code == "42710" {
			return 0, nil
		}
		return 0, fmt.Errorf("creating replication slot: %w", err)
	}
	lsn, err := pglogrepl.ParseLSN(result.ConsistentPoint)
	if err != nil {
		return 0, fmt.Errorf("parsing consistent point: %w", err)
	}
	return lsn, nil
}

func (r *Replicator) receive(ctx context.Context, conn *pgconn.PgConn, startLSN pglogrepl.LSN) error {
	clientXLogPos := startLSN
	flushedPos := startLSN
	nextStandbyMessageDeadline := time.Now().Add(standbyStatusInterval)

	for {
		if time.Now().After(nextStandbyMessageDeadline) {
			err := pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{
				WALWritePosition: clientXLogPos,
				WALFlushPosition: flushedPos,
				WALApplyPosition: flushedPos,
			})
			if err != nil {
				return fmt.Errorf("sending standby status: %w", err)
			}
			r.logger.Debug("sent standby status", "write", clientXLogPos, "flush", flushedPos)
			nextStandbyMessageDeadline = time.Now().Add(standbyStatusInterval)
		}

		receiveCtx, cancel := context.WithDeadline(ctx, nextStandbyMessageDeadline)
		rawMsg, err := conn.ReceiveMessage(receiveCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) && ctx.Err() == nil {
				continue
			}
			return fmt.Errorf("receiving message: %w", err)
		}

		if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return fmt.Errorf("postgres WAL error: %s (code %s)", errMsg.Message, errMsg.Code)
		}

		msg, ok := rawMsg.(*pgproto3.CopyData)
		if !ok {
			continue
		}
		if len(msg.Data) == 0 {
			return errors.New("empty CopyData message received")
		}

		switch msg.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
			if err != nil {
				return fmt.Errorf("parsing keepalive: %w", err)
			}
			if pkm.ServerWALEnd > clientXLogPos {
				clientXLogPos = pkm.ServerWALEnd
			}
			if pkm.ReplyRequested {
				nextStandbyMessageDeadline = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
			if err != nil {
				return fmt.Errorf("parsing xlog data: %w", err)
			}
			if pos := xld.WALStart + pglogrepl.LSN(len(xld.WALData)); pos > clientXLogPos {
				clientXLogPos = pos
			}

			logicalMsg, err := pglogrepl.ParseV2(xld.WALData, r.inStream)
			if err != nil {
				return fmt.Errorf("parsing logical replication message: %w", err)
			}
			committed, err := r.handle(ctx, logicalMsg)
			if err != nil {
				return err
			}
			if committed {
				flushedPos = clientXLogPos
			}

		default:
			return fmt.Errorf("unknown replication message type: %c", msg.Data[0])
		}
	}
}

// handle applies one logical message. It reports whether the message ended a
// transaction whose rows were committed to their tables.
func (r *Replicator) handle(ctx context.Context, msg pglogrepl.Message) (bool, error) {
	metrics.ReplicationMessages.WithLabelValues(msg.Type().String()).Inc()

	switch m := msg.(type) {
	case *pglogrepl.RelationMessageV2:
		r.relations[m.RelationID] = m
		if r.schemas != nil {
			r.schemas.HandleRelationMessage(m)
			r.checkColumns(ctx, m.RelationID)
		}

	case *pglogrepl.InsertMessageV2:
		return false, r.write(m.RelationID, m.Xid, m.Tuple)

	case *pglogrepl.UpdateMessageV2:
		return false, r.write(m.RelationID, m.Xid, m.NewTuple)

	case *pglogrepl.DeleteMessageV2:
		// Tables are append-only mirrors.
		r.logger.Debug("skipping delete", "relation", m.RelationID, "xid", m.Xid)

	case *pglogrepl.CommitMessage:
		return r.flush(ctx)

	case *pglogrepl.StreamCommitMessageV2:
		for _, sr := range r.streamed[m.Xid] {
			r.writer.Append(sr.table, sr.row)
		}
		delete(r.streamed, m.Xid)
		return r.flush(ctx)

	case *pglogrepl.StreamStartMessageV2:
		r.inStream = true
		r.streamXid = m.Xid
	case *pglogrepl.StreamStopMessageV2:
		r.inStream = false
	case *pglogrepl.StreamAbortMessageV2:
		r.abort(m.Xid, m.SubXid)
	}
	return false, nil
}

func (r *Replicator) flush(ctx context.Context) (bool, error) {
	if err := r.writer.Flush(ctx); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

// abort drops the rows of an aborted streamed transaction, or only those of
// one of its subtransactions.
func (r *Replicator) abort(xid, subXid uint32) {
	if xid == subXid {
		r.logger.Info("streamed transaction aborted", "xid", xid, "rows", len(r.streamed[xid]))
		delete(r.streamed, xid)
		return
	}
	rows := r.streamed[xid]
	kept := rows[:0]
	for _, sr := range rows {
		if sr.xid != subXid {
			kept = append(kept, sr)
		}
	}
	r.logger.Debug("streamed subtransaction aborted", "xid", xid, "subxid", subXid, "rows", len(rows)-len(kept))
	r.streamed[xid] = kept
}

// checkColumns warns about source columns missing from the table schema.
// Their values are dropped by the writer.
func (r *Replicator) checkColumns(ctx context.Context, relationID uint32) {
	ts, err := r.schemas.GetSchema(relationID)
	if err != nil || !r.mirrored[ts.QualifiedName()] {
		return
	}
	tbl, err := r.catalog.LoadTable(ctx, ts.QualifiedName())
	if err != nil {
		r.logger.Debug("cannot check relation columns", "table", ts.QualifiedName(), "error", err)
		return
	}
	md, err := tbl.Metadata(ctx)
	if err != nil {
		return
	}
	for _, col := range ts.Columns {
		if _, ok := md.Schema().FieldByName(col.Name); !ok {
			r.logger.Warn("source column not in table schema, values are dropped",
				"table", ts.QualifiedName(), "column", col.Name)
		}
	}
}

// write decodes a tuple of a mirrored relation. Outside a stream it goes to
// the writer; inside one it waits for the stream commit. xid is only set by
// pgoutput for streamed changes.
func (r *Replicator) write(relationID, xid uint32, tuple *pglogrepl.TupleData) error {
	rel, ok := r.relations[relationID]
	if !ok {
		return fmt.Errorf("unknown relation ID %d", relationID)
	}
	name := rel.Namespace + "." + rel.RelationName
	if !r.mirrored[name] {
		return nil
	}
	row, err := tupleToRow(r.typeMap, rel, tuple)
	if err != nil {
		return fmt.Errorf("mapping tuple of %s: %w", name, err)
	}
	if r.inStream {
		r.streamed[r.streamXid] = append(r.streamed[r.streamXid], streamedRow{xid: xid, table: name, row: row})
		return nil
	}
	r.writer.Append(name, row)
	return nil
}
