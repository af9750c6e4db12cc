package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
)

func startProxy(t *testing.T, q Querier) net.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewProxy(q, nil).Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	return conn
}

func receiveUntilReady(t *testing.T, fe *pgproto3.Frontend) []pgproto3.BackendMessage {
	t.Helper()
	var msgs []pgproto3.BackendMessage
	for {
		msg, err := fe.Receive()
		require.NoError(t, err)
		if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
			return msgs
		}
		// Receive reuses message buffers; keep only what the assertions need.
		switch m := msg.(type) {
		case *pgproto3.RowDescription:
			fields := append([]pgproto3.FieldDescription(nil), m.Fields...)
			for i := range fields {
				fields[i].Name = append([]byte(nil), fields[i].Name...)
			}
			msgs = append(msgs, &pgproto3.RowDescription{Fields: fields})
		case *pgproto3.DataRow:
			values := make([][]byte, len(m.Values))
			for i, v := range m.Values {
				if v != nil {
					values[i] = append([]byte(nil), v...)
				}
			}
			msgs = append(msgs, &pgproto3.DataRow{Values: values})
		case *pgproto3.CommandComplete:
			msgs = append(msgs, &pgproto3.CommandComplete{CommandTag: append([]byte(nil), m.CommandTag...)})
		case *pgproto3.ErrorResponse:
			msgs = append(msgs, &pgproto3.ErrorResponse{Code: m.Code, Message: m.Message})
		default:
			msgs = append(msgs, msg)
		}
	}
}

func TestProxyServesSimpleQueries(t *testing.T) {
	engine, _ := newTestEngine(t)
	conn := startProxy(t, engine)
	fe := pgproto3.NewFrontend(conn, conn)

	fe.Send(&pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "test", "database": "iceberg"},
	})
	require.NoError(t, fe.Flush())
	msgs := receiveUntilReady(t, fe)
	require.IsType(t, &pgproto3.AuthenticationOk{}, msgs[0])

	fe.Send(&pgproto3.Query{String: "SELECT 1 AS one, 'x' AS letter, NULL AS nothing"})
	require.NoError(t, fe.Flush())
	msgs = receiveUntilReady(t, fe)
	require.Len(t, msgs, 3)

	desc := msgs[0].(*pgproto3.RowDescription)
	require.Len(t, desc.Fields, 3)
	require.Equal(t, "one", string(desc.Fields[0].Name))
	require.Equal(t, uint32(pgtype.Int4OID), desc.Fields[0].DataTypeOID)
	require.Equal(t, uint32(pgtype.TextOID), desc.Fields[1].DataTypeOID)

	row := msgs[1].(*pgproto3.DataRow)
	require.Equal(t, "1", string(row.Values[0]))
	require.Equal(t, "x", string(row.Values[1]))
	require.Nil(t, row.Values[2])
	require.Equal(t, "SELECT 1", string(msgs[2].(*pgproto3.CommandComplete).CommandTag))

	fe.Send(&pgproto3.Query{String: "SELECT count(*) FROM public.orders"})
	require.NoError(t, fe.Flush())
	msgs = receiveUntilReady(t, fe)
	require.Len(t, msgs, 3)
	require.Equal(t, "0", string(msgs[1].(*pgproto3.DataRow).Values[0]))

	fe.Send(&pgproto3.Query{String: ";"})
	require.NoError(t, fe.Flush())
	msgs = receiveUntilReady(t, fe)
	require.Equal(t, []pgproto3.BackendMessage{&pgproto3.EmptyQueryResponse{}}, msgs)

	fe.Send(&pgproto3.Query{String: "SELECT * FROM missing_table"})
	require.NoError(t, fe.Flush())
	msgs = receiveUntilReady(t, fe)
	require.Len(t, msgs, 1)
	require.Equal(t, "XX000", msgs[0].(*pgproto3.ErrorResponse).Code)

	fe.Send(&pgproto3.Terminate{})
	require.NoError(t, fe.Flush())
}

func TestProxyDeclinesSSL(t *testing.T) {
	engine, _ := newTestEngine(t)
	conn := startProxy(t, engine)

	fe := pgproto3.NewFrontend(conn, conn)
	fe.Send(&pgproto3.SSLRequest{})
	require.NoError(t, fe.Flush())

	reply := make([]byte, 1)
	_, err := conn.Read(reply)
	require.NoError(t, err)
	require.Equal(t, byte('N'), reply[0])

	fe.Send(&pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "test"},
	})
	require.NoError(t, fe.Flush())
	msgs := receiveUntilReady(t, fe)
	require.IsType(t, &pgproto3.AuthenticationOk{}, msgs[0])
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 500000000, time.UTC)
	require.Equal(t, "2024-03-01 10:00:00.5Z", string(formatValue(ts)))
	require.Equal(t, "t", string(formatValue(true)))
	require.Equal(t, `\x0aff`, string(formatValue([]byte{0x0a, 0xff})))
	require.Nil(t, formatValue(nil))
	require.Equal(t, "42", string(formatValue(int64(42))))
}
