package stdlib

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"kaubo/internal/object"
	"kaubo/internal/value"
	"kaubo/internal/vm"
)

// dbHandles backs the opaque handle values db.open returns: a handle
// is an object.Native whose Fn is never called, used purely as a
// boxed pointer with a stable identity to key this registry — the
// same trick the net module uses for websocket connections, so a
// Kaubo program can hold and pass a handle around without the
// language gaining a new heap kind for "database connection".
var (
	dbMu      sync.Mutex
	dbHandles = make(map[*object.Native]*sql.DB)
)

// registerDB installs the db module: open/query/exec/close over
// database/sql, grounded in the teacher's internal/database/database.go
// (connection lifecycle) and internal/vm/database_bindings.go (builtin
// wiring), adapted to return Kaubo Values — a query's rows become
// structs built against a synthetic per-query shape keyed by column
// name rather than the teacher's map[string]interface{}.
func registerDB(v *vm.VM) {
	mod := object.NewModule("db")
	mod.Export("open", object.NewNative("db.open", 2, dbOpen).Value())
	mod.Export("query", object.NewNative("db.query", object.VariadicArity, dbQuery).Value())
	mod.Export("exec", object.NewNative("db.exec", object.VariadicArity, dbExec).Value())
	mod.Export("close", object.NewNative("db.close", 1, dbClose).Value())
	v.DefineGlobal("db", mod.Value())
}

func dbOpen(args []value.Value) (value.Value, error) {
	driver, err := argString(args[0], "driver")
	if err != nil {
		return value.Nil(), err
	}
	dsn, err := argString(args[1], "dsn")
	if err != nil {
		return value.Nil(), err
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return value.Nil(), fmt.Errorf("db.open: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return value.Nil(), fmt.Errorf("db.open: %w", err)
	}

	handle := object.NewNative("db_handle:"+driver, object.VariadicArity, notCallable("database handle"))
	dbMu.Lock()
	dbHandles[handle] = conn
	dbMu.Unlock()
	return handle.Value(), nil
}

func dbQuery(args []value.Value) (value.Value, error) {
	if len(args) < 2 {
		return value.Nil(), fmt.Errorf("db.query expects a handle and a query, got %d arguments", len(args))
	}
	conn, err := dbConn(args[0])
	if err != nil {
		return value.Nil(), err
	}
	query, err := argString(args[1], "query")
	if err != nil {
		return value.Nil(), err
	}

	rows, err := conn.Query(query, sqlArgs(args[2:])...)
	if err != nil {
		return value.Nil(), fmt.Errorf("db.query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return value.Nil(), fmt.Errorf("db.query: %w", err)
	}
	shape := object.NewShape(0, "Row", columns)

	var results []value.Value
	for rows.Next() {
		scanned := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range scanned {
			ptrs[i] = &scanned[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return value.Nil(), fmt.Errorf("db.query: %w", err)
		}

		row := object.NewStruct(shape)
		for i, col := range columns {
			row.Fields[i] = sqlValueToKaubo(scanned[i])
		}
		results = append(results, row.Value())
	}
	if err := rows.Err(); err != nil {
		return value.Nil(), fmt.Errorf("db.query: %w", err)
	}

	return object.NewList(results).Value(), nil
}

func dbExec(args []value.Value) (value.Value, error) {
	if len(args) < 2 {
		return value.Nil(), fmt.Errorf("db.exec expects a handle and a statement, got %d arguments", len(args))
	}
	conn, err := dbConn(args[0])
	if err != nil {
		return value.Nil(), err
	}
	stmt, err := argString(args[1], "statement")
	if err != nil {
		return value.Nil(), err
	}

	result, err := conn.Exec(stmt, sqlArgs(args[2:])...)
	if err != nil {
		return value.Nil(), fmt.Errorf("db.exec: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return value.Nil(), fmt.Errorf("db.exec: %w", err)
	}
	return value.Int(int32(affected)), nil
}

func dbClose(args []value.Value) (value.Value, error) {
	conn, err := dbConn(args[0])
	if err != nil {
		return value.Nil(), err
	}
	dbMu.Lock()
	delete(dbHandles, object.AsNative(args[0]))
	dbMu.Unlock()
	return value.Nil(), conn.Close()
}

func dbConn(v value.Value) (*sql.DB, error) {
	native, err := argNative(v, "database handle")
	if err != nil {
		return nil, err
	}
	dbMu.Lock()
	conn, ok := dbHandles[native]
	dbMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("stale or already-closed database handle")
	}
	return conn, nil
}

// sqlArgs converts Kaubo query parameters to database/sql's driver.Value
// space: ints/floats/bools/strings pass through natively, everything
// else is rendered via object.Display so a struct or list argument
// still produces something rather than failing the call outright.
func sqlArgs(vs []value.Value) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		switch {
		case v.IsNil():
			out[i] = nil
		case v.IsBool():
			out[i] = v.AsBool()
		case v.IsInt():
			out[i] = int64(v.AsInt())
		case v.IsNumber():
			out[i] = v.AsFloat()
		case v.IsPointer() && v.Kind() == value.KindString:
			out[i] = object.AsString(v).Chars
		default:
			out[i] = object.Display(v)
		}
	}
	return out
}

// sqlValueToKaubo mirrors the teacher's ExecuteQuery row conversion
// (internal/database/database.go): []byte columns (the driver's
// representation for TEXT/BLOB alike) become strings, everything else
// passes through Go's native type switch.
func sqlValueToKaubo(v interface{}) value.Value {
	switch x := v.(type) {
	case nil:
		return value.Nil()
	case []byte:
		return object.NewString(string(x)).Value()
	case string:
		return object.NewString(x).Value()
	case bool:
		return value.Bool(x)
	case int64:
		return value.Int(int32(x))
	case float64:
		return value.Float(x)
	default:
		return object.NewString(fmt.Sprintf("%v", x)).Value()
	}
}
