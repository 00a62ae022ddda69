package updates

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Operation is one desired manifest entry: the manifest to act on and the
// actions requested for it.
type Operation struct {
	ManifestName string
	Download     bool
	Install      bool
}

// ParseOperation parses "<name>[,download][,install]". Action tokens may
// appear in any order, unknown tokens are ignored and whitespace is trimmed.
func ParseOperation(token string) (Operation, error) {
	parts := strings.Split(token, ",")
	op := Operation{ManifestName: strings.TrimSpace(parts[0])}
	if err := validateName(op.ManifestName); err != nil {
		return Operation{}, fmt.Errorf("manifest token %q: %w", token, err)
	}
	for _, part := range parts[1:] {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "download":
			op.Download = true
		case "install":
			op.Install = true
		}
	}
	return op, nil
}

// String renders the operation back into token form.
func (o Operation) String() string {
	var b strings.Builder
	b.WriteString(o.ManifestName)
	if o.Download {
		b.WriteString(",download")
	}
	if o.Install {
		b.WriteString(",install")
	}
	return b.String()
}

// validateName rejects names that would escape the manifests or artifacts
// directory.
func validateName(name string) error {
	switch {
	case name == "":
		return errors.New("empty name")
	case name == "." || name == "..":
		return fmt.Errorf("invalid name %q", name)
	case strings.ContainsAny(name, `/\`) || filepath.Base(name) != name:
		return fmt.Errorf("name %q must not contain path separators", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("name %q must not start with a dot", name)
	}
	return nil
}
