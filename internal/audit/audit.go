// Package audit implements the optional, non-durable mutation replay log
// (§1 "external collaborators", §6.3): one s-expression-like line per
// mutating entity operation, appended to a plain text file so a human (or
// a future replay tool) can see what happened to a database without
// opening it.
//
// This is explicitly not a recovery log — there is no LSN, no checkpoint,
// no replay-on-open. It exists purely as a convenience trail, grounded on
// wal_manager/wal.go's append-only segment writer with its binary WAL
// records swapped for readable text.
package audit

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"dpdb/internal/dpdberr"
)

// Log appends one line per call to an underlying file, flushing after
// every write so a reader tailing the file sees mutations as they land.
type Log struct {
	mu  sync.Mutex
	fh  *os.File
	w   *bufio.Writer
	log *zap.Logger
}

// Open opens (creating if necessary) path for append-only writing.
func Open(path string, log *zap.Logger) (*Log, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, dpdberr.Wrap(dpdberr.ErrIO, err)
	}
	return &Log{fh: fh, w: bufio.NewWriter(fh), log: log}, nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return dpdberr.Wrap(dpdberr.ErrIO, err)
	}
	return l.fh.Close()
}

// Put records a `(put <tid> "key" value)` mutation.
func (l *Log) Put(tid uint8, key string, value interface{}) error {
	return l.record(fmt.Sprintf("(put %d %s %s)", tid, quote(key), formatValue(value)))
}

// Delete records a `(delete <tid> "key")` mutation.
func (l *Log) Delete(tid uint8, key string) error {
	return l.record(fmt.Sprintf("(delete %d %s)", tid, quote(key)))
}

// Clear records a `(clear <tid>)` mutation against a whole collection.
func (l *Log) Clear(tid uint8) error {
	return l.record(fmt.Sprintf("(clear %d)", tid))
}

// Begin/Commit/Rollback record transaction boundaries so a replay tool can
// group mutations by transaction.
func (l *Log) Begin(tid uint8) error    { return l.record(fmt.Sprintf("(begin %d)", tid)) }
func (l *Log) Commit(tid uint8) error   { return l.record(fmt.Sprintf("(commit %d)", tid)) }
func (l *Log) Rollback(tid uint8) error { return l.record(fmt.Sprintf("(rollback %d)", tid)) }

func (l *Log) record(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.WriteString(line); err != nil {
		return dpdberr.Wrap(dpdberr.ErrIO, err)
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return dpdberr.Wrap(dpdberr.ErrIO, err)
	}
	if err := l.w.Flush(); err != nil {
		return dpdberr.Wrap(dpdberr.ErrIO, err)
	}
	l.log.Debug("audit record", zap.String("line", line))
	return nil
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return quote(x)
	case []byte:
		return quote(string(x))
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprintf("<%T>", v)
	}
}
