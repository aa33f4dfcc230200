package mirror

import "testing"

func TestPrefixFilter(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		path     string
		expected bool
	}{
		{
			name:     "matches the prefix path itself",
			prefix:   "/docs",
			path:     "/docs",
			expected: true,
		},
		{
			name:     "matches descendants",
			prefix:   "/docs",
			path:     "/docs/note.txt",
			expected: true,
		},
		{
			name:     "rejects siblings",
			prefix:   "/docs",
			path:     "/other",
			expected: false,
		},
		{
			name:     "rejects shared name prefix",
			prefix:   "/docs",
			path:     "/docs2/note.txt",
			expected: false,
		},
		{
			name:     "root prefix matches everything non-root",
			prefix:   Root,
			path:     "/a.txt",
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewPrefixFilter(tt.prefix)
			if got := f.Matches(tt.path); got != tt.expected {
				t.Errorf("Matches(%q) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestFilterFunc(t *testing.T) {
	f := NewFilterFunc(func(path string) bool { return path == "/only" })

	if !f.Matches("/only") {
		t.Error("Expected /only to match")
	}
	if f.Matches("/other") {
		t.Error("Expected /other not to match")
	}
}

func TestFilterIdentity(t *testing.T) {
	// Two filters built from the same arguments are distinct identities;
	// the view cache and listener registry key on the interface value.
	a := NewPrefixFilter("/docs")
	b := NewPrefixFilter("/docs")
	if a == b {
		t.Error("Expected two prefix filters to have distinct identities")
	}
}

func TestCompileFilter(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		path     string
		expected bool
	}{
		{
			name:     "startsWith match",
			src:      `path startsWith "/docs"`,
			path:     "/docs/note.txt",
			expected: true,
		},
		{
			name:     "startsWith miss",
			src:      `path startsWith "/docs"`,
			path:     "/other",
			expected: false,
		},
		{
			name:     "endsWith match",
			src:      `path endsWith ".txt"`,
			path:     "/docs/note.txt",
			expected: true,
		},
		{
			name:     "equality",
			src:      `path == "/other"`,
			path:     "/other",
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := CompileFilter(tt.src)
			if err != nil {
				t.Fatalf("Failed to compile filter: %v", err)
			}
			if got := f.Matches(tt.path); got != tt.expected {
				t.Errorf("Matches(%q) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestCompileFilterErrors(t *testing.T) {
	if _, err := CompileFilter("path startsWith"); err == nil {
		t.Error("Expected a compile error for a malformed expression")
	}
	if _, err := CompileFilter(`len(path)`); err == nil {
		t.Error("Expected a compile error for a non-boolean expression")
	}
}
