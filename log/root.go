package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

const (
	TrieMonitoring    = "trie_mod"    // trie engine log
	StorageMonitoring = "store_mod"   // node/version store log
	StateDBMonitoring = "statedb_mod" // state reconciler log
	NodeMonitoring    = "n_mod"       // follower / general node ops
	ProofMonitoring   = "proof_mod"   // proof generation log
)

var root atomic.Value

func init() {
	root.Store(NewLogger(DiscardHandler()))
}

func ParseLevel(lvl string) (slog.Level, error) {
	switch strings.ToUpper(lvl) {
	case "MAX", "MAXVERBOSITY":
		return levelMaxVerbosity, nil
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "CRIT", "CRITICAL":
		return LevelCrit, nil
	default:
		return 0, fmt.Errorf("invalid level: %s", lvl)
	}
}

func InitLogger(logLevel string) {
	logLvl, err := ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(os.Stderr, logLvl)))
}

// SetDefault sets the default global logger
func SetDefault(l Logger) {
	root.Store(l)
	if lg, ok := l.(*logger); ok {
		slog.SetDefault(lg.inner)
	}
}

// Root returns the root logger
func Root() Logger {
	return root.Load().(Logger)
}

func init_module(moduleList []string, moduleEnabled []string) map[string]bool {
	moduleMap := make(map[string]bool, 0)
	for _, module := range moduleList {
		moduleMap[module] = false
	}
	for _, module := range moduleEnabled {
		moduleMap[module] = true
	}
	return moduleMap
}

var defaultKnownModules = []string{TrieMonitoring, StorageMonitoring, StateDBMonitoring, NodeMonitoring, ProofMonitoring}
var defaultModuleEnabled = []string{StateDBMonitoring, NodeMonitoring}

// moduleEnabled keeps track of whether a module's logging is enabled.
var moduleEnabled = init_module(defaultKnownModules, defaultModuleEnabled)

// EnableModule enables logging for the specified module.
func EnableModule(module string) {
	moduleEnabled[module] = true
}

// DisableModule disables logging for the specified module.
func DisableModule(module string) {
	moduleEnabled[module] = false
}

// isModuleEnabled checks if logging is enabled for the given module.
func isModuleEnabled(module string) bool {
	enabled, ok := moduleEnabled[module]
	return ok && enabled
}

// Trace logs a message at the trace level for a specific module.
func Trace(module string, msg string, ctx ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	newCtx := append([]interface{}{"module", module}, ctx...)
	Root().Write(LevelTrace, module, msg, newCtx...)
}

// Debug logs a message at the debug level for a specific module.
func Debug(module string, msg string, ctx ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(slog.LevelDebug, module, msg, ctx...)
}

// The rest of the logging functions (Info, Warn, Error, Crit, New) dont filter on module
func Info(module string, msg string, ctx ...interface{}) {
	Root().Write(slog.LevelInfo, module, msg, ctx...)
}

func Warn(module string, msg string, ctx ...interface{}) {
	Root().Write(slog.LevelWarn, module, msg, ctx...)
}

func Error(module string, msg string, ctx ...interface{}) {
	Root().Write(slog.LevelError, module, msg, ctx...)
}

func Crit(module string, msg string, ctx ...interface{}) {
	Root().Write(LevelCrit, module, msg, ctx...)
	os.Exit(1)
}

func New(ctx ...interface{}) Logger {
	return Root().With(ctx...)
}
