package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// pahoLogger adapts the paho package-level loggers (Println/Printf) to slog.
type pahoLogger struct {
	logger *slog.Logger
	level  slog.Level
}

func (p pahoLogger) Println(v ...interface{}) {
	p.logger.Log(context.Background(), p.level, strings.TrimSpace(fmt.Sprintln(v...)))
}

func (p pahoLogger) Printf(format string, v ...interface{}) {
	p.logger.Log(context.Background(), p.level, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// InstallPahoLoggers routes the paho client's internal logging into l.
//
// paho exposes its loggers as package globals, so this affects every client in
// the process and should be called once during startup. DEBUG output is very
// chatty and only installed when debug is true.
func InstallPahoLoggers(l *Logger, debug bool) {
	base := l.Logger.With("component", "paho")

	pahomqtt.CRITICAL = pahoLogger{logger: base, level: slog.LevelError}
	pahomqtt.ERROR = pahoLogger{logger: base, level: slog.LevelError}
	pahomqtt.WARN = pahoLogger{logger: base, level: slog.LevelWarn}
	if debug {
		pahomqtt.DEBUG = pahoLogger{logger: base, level: slog.LevelDebug}
	} else {
		pahomqtt.DEBUG = pahomqtt.NOOPLogger{}
	}
}
