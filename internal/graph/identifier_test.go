package graph

import "testing"

func TestSafeIdentifierAccepts(t *testing.T) {
	for _, name := range []string{"Customer", "PURCHASED", "rel_type_2", "_private", "a"} {
		got, err := SafeIdentifier(name)
		if err != nil {
			t.Fatalf("SafeIdentifier(%q) returned error: %v", name, err)
		}
		if got != name {
			t.Fatalf("SafeIdentifier(%q) = %q, want unchanged", name, got)
		}
	}
}

func TestSafeIdentifierRejects(t *testing.T) {
	for _, name := range []string{
		"",
		"1Label",
		"Label Name",
		"Label-Name",
		"Label`) DETACH DELETE (n",
		"name;drop",
	} {
		if _, err := SafeIdentifier(name); err == nil {
			t.Fatalf("SafeIdentifier(%q) accepted, want error", name)
		}
	}
}
