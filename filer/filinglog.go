package filer

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// FilingLog appends a short human-readable record of each filed message
// to a log file, one block per message:
//
//	2026-01-02 15:04:05 alice@example.com: subject
//	    OK <id@example.com> => /home/me/Mail/spam
//	    FAIL <id@example.com> => |notify: command failed
//
// The file is opened for each record so it may be rotated freely.
type FilingLog struct {
	mu  sync.Mutex
	now func() time.Time
}

// NewFilingLog returns a FilingLog.
func NewFilingLog() *FilingLog {
	return &FilingLog{now: time.Now}
}

// Record appends the outcome to the file at path.
func (l *FilingLog) Record(path, from, subject string, o *Outcome) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s: %s\n", l.now().Format(time.DateTime), from, subject)
	for _, r := range o.Results {
		dest := r.Delivery.String()
		if r.Path != "" {
			dest = r.Path
		}
		if r.Delivered {
			fmt.Fprintf(&sb, "    OK %s => %s\n", o.MessageID, dest)
		} else {
			fmt.Fprintf(&sb, "    FAIL %s => %s: %v\n", o.MessageID, dest, r.Err)
		}
	}
	if len(o.Results) == 0 && o.Err != nil {
		fmt.Fprintf(&sb, "    FAIL %s: %v\n", o.MessageID, o.Err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
