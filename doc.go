// Package dmdb is a client access layer for the DM (Dameng) relational
// database, written against the handle based native client interface
// (environment, connection and statement handles).
//
// It provides:
//   - lazily established connections that re-establish themselves after a
//     connection class failure
//   - prepared statements with positional parameters of type Value
//   - forward only cursors that read large text and binary columns in
//     chunks
//   - transactions that always restore autocommit and roll back when they
//     are dropped unfinished
//   - identity helpers (IdentCurrent, LastInsertID)
//
// # Basic Usage
//
//	conn, err := dmdb.Open(dmdb.Config{
//	    Server:   "localhost:5236",
//	    User:     "SYSDBA",
//	    Password: "SYSDBA",
//	})
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	// Execute DDL and DML
//	conn.Execute("CREATE TABLE users (id BIGINT IDENTITY, name VARCHAR(50))")
//	conn.Execute("INSERT INTO users (name) VALUES (?)", "Alice")
//
//	// Read a single row
//	var name string
//	err = conn.QueryRow("SELECT name FROM users WHERE id = ?", func(r *dmdb.Row) error {
//	    return r.Scan(&name)
//	}, 1)
//
// # Values
//
// Parameters are converted with ToValue and results are decoded with
// FromValue. NULL cannot be bound as a parameter; a pointer-to-pointer
// destination reads NULL as nil. Column indices are 1-based.
//
// # Transactions
//
//	tx, err := conn.Begin()
//	if err != nil {
//	    return err
//	}
//	defer tx.Close()
//	if err := tx.Execute("UPDATE users SET name = ? WHERE id = ?", "Bob", 1); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Native Interfaces
//
// The native client library is reached through the internal dpi package.
// The cgo binding registers itself as "dmdpi" when built with the dmdpi
// build tag; Open looks up Config.Native (default "dmdpi").
//
// A Conn and everything derived from it is meant for one goroutine at a
// time. The driver package exposes dmdb through database/sql for pooled,
// concurrent use.
package dmdb
