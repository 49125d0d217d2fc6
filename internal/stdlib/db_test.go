package stdlib

import (
	"testing"

	"kaubo/internal/object"
	"kaubo/internal/value"
)

// TestDBRoundTripAgainstSQLite exercises open/exec/query/close against
// an in-memory pure-Go sqlite database, confirming rows come back as
// structs keyed by column name rather than the teacher's ad hoc maps.
func TestDBRoundTripAgainstSQLite(t *testing.T) {
	handle, err := dbOpen([]value.Value{
		object.NewString("sqlite").Value(),
		object.NewString(":memory:").Value(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer dbClose([]value.Value{handle})

	if _, err := dbExec([]value.Value{
		handle,
		object.NewString("create table users (id integer, name text)").Value(),
	}); err != nil {
		t.Fatal(err)
	}

	affected, err := dbExec([]value.Value{
		handle,
		object.NewString("insert into users (id, name) values (?, ?)").Value(),
		value.Int(1),
		object.NewString("ada").Value(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if affected.AsInt() != 1 {
		t.Fatalf("rows affected = %d, want 1", affected.AsInt())
	}

	rows, err := dbQuery([]value.Value{
		handle,
		object.NewString("select id, name from users where id = ?").Value(),
		value.Int(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	list := object.AsList(rows)
	if len(list.Elements) != 1 {
		t.Fatalf("got %d rows, want 1", len(list.Elements))
	}

	row := object.AsStruct(list.Elements[0])
	name, ok := row.Get("name")
	if !ok {
		t.Fatal("row missing name field")
	}
	if object.AsString(name).Chars != "ada" {
		t.Fatalf("name = %q, want %q", object.AsString(name).Chars, "ada")
	}
}

func TestDBQueryOnClosedHandleFails(t *testing.T) {
	handle, err := dbOpen([]value.Value{
		object.NewString("sqlite").Value(),
		object.NewString(":memory:").Value(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dbClose([]value.Value{handle}); err != nil {
		t.Fatal(err)
	}
	if _, err := dbQuery([]value.Value{handle, object.NewString("select 1").Value()}); err == nil {
		t.Fatal("expected querying a closed handle to fail")
	}
}
