// Package history records the alerts the bot sends to chat.
package history

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Alert is one message sent in response to channel activity.
type Alert struct {
	// ID is the EventSub message ID of the notification.
	ID string `json:"id"`
	// Kind is the name of the kind of activity.
	Kind string `json:"kind"`
	// Subject is the name of the user who caused the activity, if known.
	Subject string `json:"subject"`
	// Text is the message sent.
	Text string `json:"text"`
	// Time is the time the message was sent.
	Time time.Time `json:"time"`
}

// conn gets a connection from db. The returned function releases it.
func conn[DB *sqlitex.Pool | *sqlite.Conn](ctx context.Context, db DB) (*sqlite.Conn, func(), error) {
	switch db := any(db).(type) {
	case *sqlite.Conn:
		return db, func() {}, nil
	case *sqlitex.Pool:
		c, err := db.Take(ctx)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { db.Put(c) }, nil
	}
	panic("unreachable")
}

// Record records an alert.
func Record[DB *sqlitex.Pool | *sqlite.Conn](ctx context.Context, db DB, a Alert) error {
	c, put, err := conn(ctx, db)
	if err != nil {
		return fmt.Errorf("couldn't get conn to record alert: %w", err)
	}
	defer put()
	const insert = `INSERT INTO alert (id, kind, subject, msg, time) VALUES (:id, :kind, :subject, :msg, :time)`
	st, err := c.Prepare(insert)
	if err != nil {
		return fmt.Errorf("couldn't prepare statement to record alert: %w", err)
	}
	st.SetText(":id", a.ID)
	st.SetText(":kind", a.Kind)
	st.SetText(":subject", a.Subject)
	st.SetText(":msg", a.Text)
	st.SetInt64(":time", a.Time.UnixNano())
	if _, err := st.Step(); err != nil {
		return fmt.Errorf("couldn't insert alert: %w", err)
	}
	return nil
}

// Recent returns up to n of the most recent alerts, newest first.
func Recent[DB *sqlitex.Pool | *sqlite.Conn](ctx context.Context, db DB, n int) ([]Alert, error) {
	c, put, err := conn(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("couldn't get conn to list alerts: %w", err)
	}
	defer put()
	var r []Alert
	const sel = `SELECT id, kind, subject, msg, time FROM alert ORDER BY time DESC LIMIT :n`
	opts := sqlitex.ExecOptions{
		Named: map[string]any{":n": n},
		ResultFunc: func(st *sqlite.Stmt) error {
			r = append(r, Alert{
				ID:      st.ColumnText(0),
				Kind:    st.ColumnText(1),
				Subject: st.ColumnText(2),
				Text:    st.ColumnText(3),
				Time:    time.Unix(0, st.ColumnInt64(4)),
			})
			return nil
		},
	}
	if err := sqlitex.ExecuteTransient(c, sel, &opts); err != nil {
		return nil, fmt.Errorf("couldn't list alerts: %w", err)
	}
	return r, nil
}

// Counts returns the number of alerts of each kind sent since t.
func Counts[DB *sqlitex.Pool | *sqlite.Conn](ctx context.Context, db DB, since time.Time) (map[string]int, error) {
	c, put, err := conn(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("couldn't get conn to count alerts: %w", err)
	}
	defer put()
	r := make(map[string]int)
	const sel = `SELECT kind, COUNT(*) FROM alert WHERE time >= :since GROUP BY kind`
	opts := sqlitex.ExecOptions{
		Named: map[string]any{":since": since.UnixNano()},
		ResultFunc: func(st *sqlite.Stmt) error {
			r[st.ColumnText(0)] = int(st.ColumnInt64(1))
			return nil
		},
	}
	if err := sqlitex.ExecuteTransient(c, sel, &opts); err != nil {
		return nil, fmt.Errorf("couldn't count alerts: %w", err)
	}
	return r, nil
}

//go:embed schema.sql
var schemaSQL string

// Init initializes an SQLite DB to record alerts.
func Init[DB *sqlitex.Pool | *sqlite.Conn](ctx context.Context, db DB) error {
	c, put, err := conn(ctx, db)
	if err != nil {
		return fmt.Errorf("couldn't get conn to initialize alerts: %w", err)
	}
	defer put()
	if err := sqlitex.ExecuteScript(c, schemaSQL, nil); err != nil {
		return fmt.Errorf("couldn't initialize alerts schema: %w", err)
	}
	return nil
}
