package builder

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime"

	"golang.org/x/mod/modfile"

	"github.com/oshokin/polypack/internal/config"
	"github.com/oshokin/polypack/internal/domain/platform"
)

// GoModFilename is the module file read from the project root.
const GoModFilename = "go.mod"

// majorVersionSuffix matches the "/v2" style suffix of a module path.
var majorVersionSuffix = regexp.MustCompile(`^v[0-9]+$`)

// errNoModulePath is returned for a go.mod without a module directive.
var errNoModulePath = errors.New("go.mod has no module directive")

// Requirement is one require directive.
type Requirement struct {
	// Path is the module path.
	Path string
	// Version is the required version.
	Version string
	// Indirect is set for "// indirect" requirements.
	Indirect bool
}

// Module is what the packager needs from go.mod.
type Module struct {
	// Path is the module path.
	Path string
	// Name is the application name derived from Path.
	Name string
	// GoVersion is the go directive, possibly empty.
	GoVersion string
	// Requires lists the require directives in file order.
	Requires []Requirement
}

// ReadModule parses go.mod in projectDir. A missing or malformed file
// yields config.ErrConfig.
func ReadModule(projectDir string) (*Module, error) {
	modPath := filepath.Join(projectDir, GoModFilename)

	data, err := os.ReadFile(filepath.Clean(modPath))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", GoModFilename, config.ErrConfig, err)
	}

	file, err := modfile.ParseLax(modPath, data, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w: %w", GoModFilename, config.ErrConfig, err)
	}

	if file.Module == nil || file.Module.Mod.Path == "" {
		return nil, fmt.Errorf("%s: %w: %w", modPath, config.ErrConfig, errNoModulePath)
	}

	module := &Module{
		Path:     file.Module.Mod.Path,
		Name:     NameFromModulePath(file.Module.Mod.Path),
		Requires: make([]Requirement, 0, len(file.Require)),
	}

	if file.Go != nil {
		module.GoVersion = file.Go.Version
	}

	for _, req := range file.Require {
		module.Requires = append(module.Requires, Requirement{
			Path:     req.Mod.Path,
			Version:  req.Mod.Version,
			Indirect: req.Indirect,
		})
	}

	return module, nil
}

// NameFromModulePath returns the last path element, skipping a major
// version suffix: "github.com/acme/tool/v2" gives "tool".
func NameFromModulePath(modulePath string) string {
	name := path.Base(modulePath)
	if majorVersionSuffix.MatchString(name) {
		if parent := path.Base(path.Dir(modulePath)); parent != "." && parent != "/" {
			name = parent
		}
	}

	return name
}

// DirectRequirements returns the requirements not marked indirect.
func (m *Module) DirectRequirements() []Requirement {
	direct := make([]Requirement, 0, len(m.Requires))

	for _, req := range m.Requires {
		if !req.Indirect {
			direct = append(direct, req)
		}
	}

	return direct
}

// HostTarget is the target of the running toolchain host.
func HostTarget() platform.Target {
	return platform.Target{GOOS: runtime.GOOS, GOARCH: runtime.GOARCH}
}
