package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/polypack/internal/service/common"
)

// VersionFilename is the descriptor published under the update URL.
const VersionFilename = "polypack-version.yaml"

// maxDescriptorSize bounds the descriptor body.
const maxDescriptorSize = 1 << 20

// errInvalidDescriptor is returned for a descriptor without version or artifact.
var errInvalidDescriptor = errors.New("invalid version descriptor")

// Descriptor advertises the newest published artifact.
type Descriptor struct {
	// Version is the published application version.
	Version string `yaml:"version"`
	// Artifact is the artifact file name relative to the update URL, or an absolute URL.
	Artifact string `yaml:"artifact"`
	// Notes is an optional human-readable summary.
	Notes string `yaml:"notes,omitempty"`
}

// FetchDescriptor downloads and parses the version descriptor.
func FetchDescriptor(ctx context.Context, client *common.Client) (*Descriptor, error) {
	body, err := client.Get(ctx, VersionFilename)
	if err != nil {
		return nil, err
	}

	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxDescriptorSize))
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}

	var desc Descriptor
	if err = yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidDescriptor, err)
	}

	desc.Version = strings.TrimSpace(desc.Version)
	desc.Artifact = strings.TrimSpace(desc.Artifact)

	if desc.Version == "" || desc.Artifact == "" {
		return nil, fmt.Errorf("version and artifact are required: %w", errInvalidDescriptor)
	}

	return &desc, nil
}

// IsNewer reports whether remote is a newer version than local. Versions
// that do not parse as semantic versions are compared for inequality.
func IsNewer(local, remote string) bool {
	if local == "" {
		return true
	}

	localVersion, localErr := goversion.NewVersion(local)
	remoteVersion, remoteErr := goversion.NewVersion(remote)

	if localErr != nil || remoteErr != nil {
		return local != remote
	}

	return remoteVersion.GreaterThan(localVersion)
}
