package graph

import (
	"fmt"
	"regexp"
)

// Labels, relationship types and property keys cannot be bound as query
// parameters in Cypher, so they are spliced into query text. Every spliced
// identifier must pass this allow-list first.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func SafeIdentifier(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("graph: empty identifier")
	}
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("graph: identifier %q contains characters outside [A-Za-z0-9_]", name)
	}
	return name, nil
}
