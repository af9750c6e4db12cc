// Package proxy serves catalog tables over the Postgres wire protocol,
// executing simple queries in DuckDB.
package proxy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"

	"arctic-iceberg/metrics"
)

// Querier runs a SQL query; *Engine implements it.
type Querier interface {
	Query(ctx context.Context, query string) (*sql.Rows, error)
}

type Proxy struct {
	engine Querier
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewProxy(engine Querier, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{engine: engine, logger: logger.With("component", "proxy")}
}

// ListenAndServe listens on the TCP port and serves until ctx is cancelled.
func (p *Proxy) ListenAndServe(ctx context.Context, port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}
	return p.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled, then closes
// the listener and waits for open connections to finish.
func (p *Proxy) Serve(ctx context.Context, listener net.Listener) error {
	p.logger.Info("proxy listening", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	defer p.wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			p.logger.Warn("accept failed", "error", err)
			continue
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handleConnection(ctx, conn)
		}()
	}
}

func (p *Proxy) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	metrics.ProxyConnections.Inc()
	defer metrics.ProxyConnections.Dec()

	// Unblock Receive when the server shuts down.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	backend := pgproto3.NewBackend(conn, conn)
	if err := p.startup(backend, conn); err != nil {
		p.logger.Debug("startup failed", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	for {
		msg, err := backend.Receive()
		if err != nil {
			return
		}

		switch msg := msg.(type) {
		case *pgproto3.Query:
			if err := p.handleQuery(ctx, backend, msg.String); err != nil {
				metrics.ProxyQueries.WithLabelValues("error").Inc()
				p.logger.Debug("query failed", "query", msg.String, "error", err)
				p.sendError(backend, err)
				continue
			}
			metrics.ProxyQueries.WithLabelValues("ok").Inc()

		case *pgproto3.Terminate:
			return

		default:
			p.sendError(backend, fmt.Errorf("unsupported message %T, only simple queries are served", msg))
		}
	}
}

func (p *Proxy) startup(backend *pgproto3.Backend, conn net.Conn) error {
	for {
		msg, err := backend.ReceiveStartupMessage()
		if err != nil {
			return err
		}
		switch msg.(type) {
		case *pgproto3.SSLRequest, *pgproto3.GSSEncRequest:
			if _, err := conn.Write([]byte{'N'}); err != nil {
				return err
			}
		case *pgproto3.StartupMessage:
			backend.Send(&pgproto3.AuthenticationOk{})
			backend.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: "14.0"})
			backend.Send(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"})
			backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
			return backend.Flush()
		default:
			return fmt.Errorf("unexpected startup message %T", msg)
		}
	}
}

func (p *Proxy) handleQuery(ctx context.Context, backend *pgproto3.Backend, query string) error {
	rows, err := p.engine.Query(ctx, query)
	if errors.Is(err, ErrEmptyQuery) {
		backend.Send(&pgproto3.EmptyQueryResponse{})
		backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
		return backend.Flush()
	}
	if err != nil {
		return err
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return err
	}
	backend.Send(rowDescription(columnTypes))

	values := make([]any, len(columnTypes))
	scanArgs := make([]any, len(columnTypes))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	n := 0
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return err
		}
		dataRow := &pgproto3.DataRow{Values: make([][]byte, len(columnTypes))}
		for i, val := range values {
			dataRow.Values[i] = formatValue(val)
		}
		backend.Send(dataRow)
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	backend.Send(&pgproto3.CommandComplete{CommandTag: []byte("SELECT " + strconv.Itoa(n))})
	backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	return backend.Flush()
}

func rowDescription(columns []*sql.ColumnType) *pgproto3.RowDescription {
	fields := make([]pgproto3.FieldDescription, len(columns))
	for i, col := range columns {
		fields[i] = pgproto3.FieldDescription{
			Name:         []byte(col.Name()),
			DataTypeOID:  mapDataTypeToOID(col.DatabaseTypeName()),
			DataTypeSize: -1,
			TypeModifier: -1,
			Format:       pgtype.TextFormatCode,
		}
	}
	return &pgproto3.RowDescription{Fields: fields}
}

// formatValue renders a scanned value in Postgres text format.
func formatValue(v any) []byte {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return []byte(fmt.Sprintf(`\x%x`, x))
	case time.Time:
		return []byte(x.Format("2006-01-02 15:04:05.999999Z07:00"))
	case bool:
		if x {
			return []byte("t")
		}
		return []byte("f")
	default:
		return []byte(fmt.Sprint(x))
	}
}

func (p *Proxy) sendError(backend *pgproto3.Backend, err error) {
	backend.Send(&pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     "XX000",
		Message:  err.Error(),
	})
	backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	_ = backend.Flush()
}

func mapDataTypeToOID(databaseTypeName string) uint32 {
	switch databaseTypeName {
	case "BOOLEAN":
		return pgtype.BoolOID
	case "BIGINT", "HUGEINT":
		return pgtype.Int8OID
	case "INTEGER":
		return pgtype.Int4OID
	case "SMALLINT":
		return pgtype.Int2OID
	case "FLOAT":
		return pgtype.Float4OID
	case "DOUBLE":
		return pgtype.Float8OID
	case "DATE":
		return pgtype.DateOID
	case "TIME":
		return pgtype.TimeOID
	case "TIMESTAMP":
		return pgtype.TimestampOID
	case "TIMESTAMPTZ":
		return pgtype.TimestamptzOID
	case "BLOB":
		return pgtype.ByteaOID
	case "UUID":
		return pgtype.UUIDOID
	default:
		return pgtype.TextOID
	}
}
