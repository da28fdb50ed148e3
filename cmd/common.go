package cmd

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/personahub/personahub/pkg/frontmatter"
	"github.com/personahub/personahub/pkg/guard"
	"github.com/personahub/personahub/pkg/logging"
	"github.com/personahub/personahub/pkg/persona"
	"github.com/personahub/personahub/pkg/ratelimit"
	"github.com/personahub/personahub/pkg/validate"
)

// securityStack bundles the validation components every command wires
// the same way: one security log, one validator, one limiter per
// process.
type securityStack struct {
	secLog    *logging.SecurityLog
	validator *validate.Validator
	parser    *frontmatter.Parser
	pathGuard *guard.PathGuard
	limiter   *ratelimit.Limiter
}

func newSecurityStack() *securityStack {
	secLog := logging.NewSecurityLog(logging.DefaultCapacity)
	validator := validate.New(secLog)
	return &securityStack{
		secLog:    secLog,
		validator: validator,
		parser:    frontmatter.NewParser(validator, secLog),
		pathGuard: guard.NewPathGuard(secLog),
		limiter:   ratelimit.New(secLog, ratelimit.Options{}),
	}
}

// defaultPersonaDir is where personas live unless --dir overrides it.
func defaultPersonaDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot determine home directory")
	}
	return filepath.Join(home, ".personahub", "personas")
}

func openStore(stack *securityStack, dir string) *persona.Store {
	if dir == "" {
		dir = defaultPersonaDir()
	}
	store, err := persona.NewStore(dir, stack.pathGuard, stack.parser, stack.validator)
	if err != nil {
		log.Fatal().Err(err).Str("dir", dir).Msg("Cannot open persona store")
	}
	return store
}
