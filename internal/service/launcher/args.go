package launcher

import (
	"errors"
	"fmt"

	"github.com/oshokin/polypack/internal/archive"
)

// Mode is what a launcher invocation does.
type Mode int

const (
	// ModeLaunch runs the bundled binary for the host.
	ModeLaunch Mode = iota
	// ModeCheckUpdate reports whether a newer version is published.
	ModeCheckUpdate
	// ModeUpdate downloads the newer version and starts the self-replace step.
	ModeUpdate
	// ModeSelfReplace moves the artifact over ReplaceTarget.
	ModeSelfReplace
)

// errMissingReplaceTarget is returned for --polypack-self-replace without a path.
var errMissingReplaceTarget = errors.New("self-replace needs a target path")

// Invocation is a parsed launcher argument list.
type Invocation struct {
	// Mode selects the launch path or an auxiliary subcommand.
	Mode Mode
	// Cleanup is set when the cleanup flag was present.
	Cleanup bool
	// Args are forwarded verbatim to the application.
	Args []string
	// ReplaceTarget is the artifact to overwrite in ModeSelfReplace.
	ReplaceTarget string
}

// ParseArgs classifies the arguments given to an artifact. Auxiliary flags
// count only in first position; anywhere else they belong to the application.
func ParseArgs(args []string) (*Invocation, error) {
	if len(args) > 0 {
		switch args[0] {
		case archive.FlagCheckUpdate:
			return &Invocation{Mode: ModeCheckUpdate}, nil
		case archive.FlagUpdate:
			return &Invocation{Mode: ModeUpdate}, nil
		case archive.FlagSelfReplace:
			if len(args) < 2 || args[1] == "" {
				return nil, fmt.Errorf("%s: %w", archive.FlagSelfReplace, errMissingReplaceTarget)
			}

			return &Invocation{Mode: ModeSelfReplace, ReplaceTarget: args[1]}, nil
		}
	}

	invocation := &Invocation{
		Mode: ModeLaunch,
		Args: make([]string, 0, len(args)),
	}

	for _, arg := range args {
		if arg == archive.FlagCleanup {
			invocation.Cleanup = true
			continue
		}

		invocation.Args = append(invocation.Args, arg)
	}

	return invocation, nil
}
