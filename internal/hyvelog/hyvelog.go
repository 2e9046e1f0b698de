// Package hyvelog gives every component a contextual logger in the style of
// the teacher's own log.New("base", ..., "peer", ...) call shape (see
// swarm/network/hive.go, network/retrieval/peer.go), backed by log15 rather
// than hand-rolled formatting.
package hyvelog

import (
	"os"

	"github.com/inconshreveable/log15"
)

// Logger is re-exported so callers only ever import this package.
type Logger = log15.Logger

var root = log15.New()

func init() {
	root.SetHandler(log15.LvlFilterHandler(log15.LvlInfo, log15.StreamHandler(os.Stderr, log15.TerminalFormat())))
}

// New returns a child logger with the given context, e.g.
// hyvelog.New("component", "resolver").
func New(ctx ...interface{}) Logger {
	return root.New(ctx...)
}

// SetLevel reconfigures the root handler's minimum level. Valid values are
// the config-file strings: none, error, warn, info, debug, trace.
func SetLevel(level string) error {
	lvl, err := levelFromConfigString(level)
	if err != nil {
		return err
	}
	root.SetHandler(log15.LvlFilterHandler(lvl, log15.StreamHandler(os.Stderr, log15.TerminalFormat())))
	return nil
}

func levelFromConfigString(s string) (log15.Lvl, error) {
	switch s {
	case "none":
		// log15 has no "off" level; filter above Crit so virtually nothing
		// passes, matching the config file's "none" semantics.
		return log15.LvlCrit + 1, nil
	case "error":
		return log15.LvlError, nil
	case "warn":
		return log15.LvlWarn, nil
	case "info":
		return log15.LvlInfo, nil
	case "debug":
		return log15.LvlDebug, nil
	case "trace":
		return log15.LvlDebug, nil
	default:
		return log15.LvlInfo, log15ParseErr(s)
	}
}

func log15ParseErr(s string) error {
	return &unknownLevelError{s}
}

type unknownLevelError struct{ level string }

func (e *unknownLevelError) Error() string {
	return "hyvelog: unknown log level " + e.level
}
