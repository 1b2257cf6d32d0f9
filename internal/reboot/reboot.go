// Package reboot provides the watchdog-style forced restart used by the
// console and by OTA completion.
package reboot

import (
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// ExitCode is used when the process cannot replace itself.
const ExitCode = 3

// Rebooter restarts the node. Reboot does not return.
type Rebooter interface {
	Reboot()
}

// Watchdog re-executes the running binary with its original arguments, the
// host equivalent of letting the watchdog timer expire. Hooks registered with
// OnReboot run first, in reverse order, so open images get flushed.
type Watchdog struct {
	mu    sync.Mutex
	hooks []func()
	log   zerolog.Logger

	// swapped out in tests
	exec func(argv0 string, argv []string, envv []string) error
	exit func(code int)
}

// NewWatchdog returns a Watchdog.
func NewWatchdog(log zerolog.Logger) *Watchdog {
	return &Watchdog{
		log:  log,
		exec: syscall.Exec,
		exit: os.Exit,
	}
}

// OnReboot registers fn to run before the restart.
func (w *Watchdog) OnReboot(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks = append(w.hooks, fn)
}

// Reboot runs the hooks and replaces the process. If exec fails the process
// exits with ExitCode so a supervisor can restart it.
func (w *Watchdog) Reboot() {
	w.mu.Lock()
	hooks := w.hooks
	w.hooks = nil
	w.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}

	bin, err := os.Executable()
	if err != nil {
		// Fall back to PATH lookup
		bin, err = exec.LookPath(os.Args[0])
	}
	if err != nil {
		w.log.Error().Err(err).Msg("Cannot locate own binary, exiting instead")
		w.exit(ExitCode)
		return
	}

	w.log.Warn().Str("binary", bin).Strs("args", os.Args[1:]).Msg("Rebooting")
	if err := w.exec(bin, os.Args, os.Environ()); err != nil {
		w.log.Error().Err(err).Msg("Re-exec failed, exiting instead")
	}
	w.exit(ExitCode)
}

// Recorder is a Rebooter that only counts calls.
type Recorder struct {
	mu    sync.Mutex
	count int
}

// Reboot records the call.
func (r *Recorder) Reboot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

// Count returns how many times Reboot was called.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
