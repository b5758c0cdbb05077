package resolve

// Pattern maps a semantic fragment of a relationship type name to the entity
// labels it conventionally connects. The table is plain configuration data:
// matching is a case-insensitive substring test against the relationship type
// name, in table order.
type Pattern struct {
	Match  string
	Source string
	Target string
}

var RelationshipPatterns = []Pattern{
	{Match: "PURCHASED", Source: "Customer", Target: "Product"},
	{Match: "BUY", Source: "Customer", Target: "Product"},
	{Match: "ORDER", Source: "Customer", Target: "Product"},
	{Match: "FOLLOWS", Source: "User", Target: "User"},
	{Match: "FOLLOW", Source: "User", Target: "User"},
	{Match: "IN_CATEGORY", Source: "Product", Target: "Category"},
	{Match: "CATEGORY", Source: "Product", Target: "Category"},
	{Match: "VIEWED", Source: "Customer", Target: "Product"},
	{Match: "VIEW", Source: "Customer", Target: "Product"},
	{Match: "AUTHORED", Source: "User", Target: "Post"},
	{Match: "AUTHOR", Source: "User", Target: "Post"},
	{Match: "COMMENTED", Source: "User", Target: "Comment"},
	{Match: "COMMENT", Source: "User", Target: "Comment"},
}

// labelAliases lists substitutes tried when a pattern label is not among the
// dataset's known labels (a generic actor label standing in for a specific
// one).
var labelAliases = map[string][]string{
	"User":     {"Customer"},
	"Customer": {"User"},
}
