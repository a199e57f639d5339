package tts

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrEngineNotInstalled is returned when no Piper installation can be found.
var ErrEngineNotInstalled = errors.New("piper engine not installed")

// DefaultProbeCommands are the names the Piper CLI ships under.
var DefaultProbeCommands = []string{"piper", "piper-tts", "piper_tts"}

// Probe reports whether the external engine is available.
type Probe func() bool

// LookPathProbe returns a Probe that succeeds when any of names resolves on PATH
// (or is an executable path).
func LookPathProbe(names ...string) Probe {
	if len(names) == 0 {
		names = DefaultProbeCommands
	}
	candidates := append([]string(nil), names...)
	return func() bool {
		for _, name := range candidates {
			if _, err := exec.LookPath(name); err == nil {
				return true
			}
		}
		return false
	}
}

// StaticProbe always answers available.
func StaticProbe(available bool) Probe {
	return func() bool { return available }
}

func notInstalledError(candidates []string) error {
	return fmt.Errorf("%w: none of [%s] found on PATH; install it with `pip install piper-tts` "+
		"or download a release binary from https://github.com/rhasspy/piper/releases. "+
		"Note: piper links espeak-ng, which is GPL-3.0 licensed; distributing it with your application "+
		"carries obligations separate from this adapter's license",
		ErrEngineNotInstalled, strings.Join(candidates, ", "))
}
