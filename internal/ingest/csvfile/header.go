package csvfile

import "strings"

const (
	KindNode         = "node"
	KindRelationship = "relationship"
)

// HeaderInfo is what a CSV header alone tells us about a file. Kind is decided
// deterministically from header content, independent of row data: a
// source_id/target_id pair (plain or Label:source_id declared form) makes a
// relationship file, anything else is a node file keyed by an id column.
type HeaderInfo struct {
	Kind string

	HasID       bool
	HasSourceID bool
	HasTargetID bool

	// Actual header cell names, preserved case, for row lookups.
	IDColumn     string
	SourceColumn string
	TargetColumn string

	// Labels declared through the Label:source_id / Label:target_id form.
	SourceLabel string
	TargetLabel string
}

// InspectHeader classifies a header. A cell of the form "Customer:source_id"
// both marks the file as relationship-kind and declares the endpoint label.
func InspectHeader(header []string) HeaderInfo {
	var info HeaderInfo
	for _, cell := range header {
		name := strings.ToLower(strings.TrimSpace(cell))
		label := ""
		if idx := strings.Index(name, ":"); idx >= 0 {
			label = strings.TrimSpace(strings.TrimSpace(cell)[:idx])
			name = strings.TrimSpace(name[idx+1:])
		}
		switch name {
		case "id":
			if !info.HasID {
				info.HasID = true
				info.IDColumn = cell
			}
		case "source_id":
			if !info.HasSourceID {
				info.HasSourceID = true
				info.SourceColumn = cell
				info.SourceLabel = label
			}
		case "target_id":
			if !info.HasTargetID {
				info.HasTargetID = true
				info.TargetColumn = cell
				info.TargetLabel = label
			}
		}
	}
	if info.HasSourceID || info.HasTargetID {
		info.Kind = KindRelationship
	} else {
		info.Kind = KindNode
	}
	return info
}
