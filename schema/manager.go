package schema

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pglogrepl"
)

// Manager caches the schemas of replicated Postgres relations.
type Manager struct {
	conn          Querier
	schemas       map[uint32]*TableSchema // relation ID -> schema
	schemasByName map[string]*TableSchema // "schema.table" -> schema
	mu            sync.RWMutex
}

func NewManager(conn Querier) *Manager {
	return &Manager{
		conn:          conn,
		schemas:       make(map[uint32]*TableSchema),
		schemasByName: make(map[string]*TableSchema),
	}
}

// GetSchema returns the cached schema for a relation ID.
func (m *Manager) GetSchema(relationID uint32) (*TableSchema, error) {
	m.mu.RLock()
	ts, exists := m.schemas[relationID]
	m.mu.RUnlock()

	if exists {
		return ts, nil
	}

	return nil, fmt.Errorf("schema not found for relation ID: %d", relationID)
}

// GetSchemaByName returns the cached schema for "schema.table".
func (m *Manager) GetSchemaByName(qualified string) (*TableSchema, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.schemasByName[qualified]
	return ts, ok
}

// HandleRelationMessage caches the relation layout announced by pgoutput.
func (m *Manager) HandleRelationMessage(msg *pglogrepl.RelationMessageV2) {
	ts := &TableSchema{
		Schema:  msg.Namespace,
		Name:    msg.RelationName,
		Columns: make([]Column, len(msg.Columns)),
	}

	for i, col := range msg.Columns {
		ts.Columns[i] = Column{
			Name:    col.Name,
			TypeOID: col.DataType,
			// pgoutput only flags key columns; everything else may be null.
			Nullable: col.Flags&1 == 0,
		}
	}

	m.mu.Lock()
	m.schemas[msg.RelationID] = ts
	m.schemasByName[ts.QualifiedName()] = ts
	m.mu.Unlock()
}

// InitializeSchema loads the schema of a configured table before replication starts.
func (m *Manager) InitializeSchema(ctx context.Context, schemaName, tableName string) (*TableSchema, error) {
	ts, err := GetTableSchema(ctx, m.conn, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("getting table schema: %w", err)
	}

	var relationID uint32
	err = m.conn.QueryRow(ctx, `
        SELECT c.oid 
        FROM pg_class c 
        JOIN pg_namespace n ON n.oid = c.relnamespace 
        WHERE n.nspname = $1 AND c.relname = $2
    `, schemaName, tableName).Scan(&relationID)
	if err != nil {
		return nil, fmt.Errorf("getting relation ID: %w", err)
	}

	m.mu.Lock()
	m.schemas[relationID] = ts
	m.schemasByName[ts.QualifiedName()] = ts
	m.mu.Unlock()

	return ts, nil
}
