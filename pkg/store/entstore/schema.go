package entstore

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	eventsTable    = "events"
	snapshotsTable = "snapshots"
)

var (
	// EventsColumns holds the columns for the "events" table.
	EventsColumns = []*schema.Column{
		{Name: "persistence_id", Type: field.TypeString, Size: 255},
		{Name: "seq", Type: field.TypeInt64},
		{Name: "event_id", Type: field.TypeString, Size: 64},
		{Name: "type", Type: field.TypeString, Size: 255},
		// Encoded payload; BYTEA on Postgres, BLOB on SQLite.
		{Name: "payload", Type: field.TypeBytes, Nullable: true},
		// Unix nanoseconds, portable across drivers.
		{Name: "created_at", Type: field.TypeInt64},
	}
	// EventsTable holds the schema information for the "events" table.
	EventsTable = &schema.Table{
		Name:       eventsTable,
		Columns:    EventsColumns,
		PrimaryKey: []*schema.Column{EventsColumns[0], EventsColumns[1]},
		Indexes: []*schema.Index{
			{
				Name:    "event_persistence_id_event_id",
				Unique:  true,
				Columns: []*schema.Column{EventsColumns[0], EventsColumns[2]},
			},
		},
	}
	// SnapshotsColumns holds the columns for the "snapshots" table.
	SnapshotsColumns = []*schema.Column{
		{Name: "persistence_id", Type: field.TypeString, Size: 255},
		{Name: "seq", Type: field.TypeInt64},
		{Name: "snapshot_id", Type: field.TypeString, Size: 64},
		{Name: "state", Type: field.TypeBytes, Nullable: true},
		{Name: "created_at", Type: field.TypeInt64},
	}
	// SnapshotsTable holds the schema information for the "snapshots" table.
	SnapshotsTable = &schema.Table{
		Name:       snapshotsTable,
		Columns:    SnapshotsColumns,
		PrimaryKey: []*schema.Column{SnapshotsColumns[0], SnapshotsColumns[1]},
	}
	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		EventsTable,
		SnapshotsTable,
	}
)
