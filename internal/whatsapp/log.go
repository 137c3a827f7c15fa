package whatsapp

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogAdapter routes whatsmeow's printf-style logging into slog.
type slogAdapter struct {
	base   *slog.Logger
	logger *slog.Logger
	module string
}

// NewLogger returns a whatsmeow logger writing to logger under module.
func NewLogger(logger *slog.Logger, module string) waLog.Logger {
	return &slogAdapter{base: logger, logger: logger.With("module", module), module: module}
}

func (a *slogAdapter) Debugf(msg string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(msg, args...))
}

func (a *slogAdapter) Infof(msg string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(msg, args...))
}

func (a *slogAdapter) Warnf(msg string, args ...interface{}) {
	a.logger.Warn(fmt.Sprintf(msg, args...))
}

func (a *slogAdapter) Errorf(msg string, args ...interface{}) {
	a.logger.Error(fmt.Sprintf(msg, args...))
}

func (a *slogAdapter) Sub(module string) waLog.Logger {
	full := a.module + "/" + module
	return &slogAdapter{base: a.base, logger: a.base.With("module", full), module: full}
}
