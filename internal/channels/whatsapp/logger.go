package whatsapp

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
)

// waLogger bridges whatsmeow's waLog.Logger to our L_* functions.
type waLogger struct {
	module string
	quiet  bool // demote info to debug; whatsmeow is chatty
}

func newLogger(module string) waLog.Logger {
	return &waLogger{module: module, quiet: true}
}

func (l *waLogger) line(msg string, args []interface{}) string {
	return fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...))
}

func (l *waLogger) Debugf(msg string, args ...interface{}) {
	L_debug(l.line(msg, args))
}

func (l *waLogger) Infof(msg string, args ...interface{}) {
	if l.quiet {
		L_debug(l.line(msg, args))
		return
	}
	L_info(l.line(msg, args))
}

func (l *waLogger) Warnf(msg string, args ...interface{}) {
	L_warn(l.line(msg, args))
}

func (l *waLogger) Errorf(msg string, args ...interface{}) {
	L_error(l.line(msg, args))
}

func (l *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{module: l.module + "/" + module, quiet: l.quiet}
}
