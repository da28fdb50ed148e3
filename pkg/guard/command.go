package guard

import (
	"errors"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/personahub/personahub/pkg/logging"
	"github.com/personahub/personahub/pkg/severity"
)

var ErrCommandRejected = errors.New("command rejected")

// defaultAllowedExecutables is the small set of tools the platform is
// permitted to spawn. Execution always goes through direct
// argument-vector spawning, never a shell, so this list is a
// defense-in-depth backstop.
var defaultAllowedExecutables = map[string]bool{
	"git":  true,
	"gpg":  true,
	"tar":  true,
	"zip":  true,
	"less": true,
}

// argPattern is the conservative shape every argument must match:
// alphanumerics plus - _ . / only.
var argPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// CommandGuard whitelists executable names and validates argument
// shape.
type CommandGuard struct {
	allowed map[string]bool
	secLog  *logging.SecurityLog
}

func NewCommandGuard(secLog *logging.SecurityLog) *CommandGuard {
	return &CommandGuard{allowed: defaultAllowedExecutables, secLog: secLog}
}

// NewCommandGuardWithAllowList builds a guard over a custom executable
// set.
func NewCommandGuardWithAllowList(secLog *logging.SecurityLog, executables []string) *CommandGuard {
	allowed := make(map[string]bool, len(executables))
	for _, exe := range executables {
		allowed[exe] = true
	}
	return &CommandGuard{allowed: allowed, secLog: secLog}
}

// IsSafe reports whether the executable is allow-listed and every
// argument matches the conservative shape. Rejections are always
// logged.
func (g *CommandGuard) IsSafe(executable string, args []string) bool {
	if !g.allowed[executable] {
		g.reject(executable, "executable not in allow list")
		return false
	}

	for _, arg := range args {
		if arg == "" || !argPattern.MatchString(arg) {
			g.reject(executable, "argument contains disallowed characters")
			return false
		}
	}
	return true
}

// Check is IsSafe with an error result for call sites that propagate
// failures.
func (g *CommandGuard) Check(executable string, args []string) error {
	if !g.IsSafe(executable, args) {
		return ErrCommandRejected
	}
	return nil
}

func (g *CommandGuard) reject(executable, reason string) {
	log.Warn().Str("executable", executable).Str("reason", reason).Msg("Command rejected")
	if g.secLog == nil {
		return
	}
	g.secLog.Record(logging.Event{
		Type:     logging.EventCommandRejected,
		Severity: severity.High,
		Source:   "commandguard",
		Details:  reason,
		Metadata: map[string]string{"executable": executable},
	})
}
