package types

import "testing"

func TestParseVersionRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"v1", "v1"},
		{"1", "v1"},
		{"v1.2.3", "v1.2.3"},
		{"v10.20", "v10.20"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVersion(tt.in)
			if err != nil {
				t.Fatalf("ParseVersion(%q): %v", tt.in, err)
			}
			if got := v.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseVersionRejects(t *testing.T) {
	for _, in := range []string{"", "v", "v0", "v1.0", "v1.x", "v-1"} {
		t.Run(in, func(t *testing.T) {
			if _, err := ParseVersion(in); err == nil {
				t.Errorf("ParseVersion(%q) succeeded, want error", in)
			}
		})
	}
}

func TestNextVersion(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		level int
		want  string
	}{
		{"increment middle drops lower", "v1.2.3", 2, "v1.3"},
		{"increment first", "v1.2.3", 1, "v2"},
		{"increment last", "v1.2.3", 3, "v1.2.4"},
		{"append new level", "v1.2.3", 4, "v1.2.3.1"},
		{"unspecified increments last", "v1.2.3", 0, "v1.2.4"},
		{"single component", "v7", 1, "v8"},
		{"single component append", "v7", 2, "v7.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, err := ParseVersion(tt.base)
			if err != nil {
				t.Fatal(err)
			}
			next, err := base.NextVersion(tt.level)
			if err != nil {
				t.Fatalf("NextVersion(%d): %v", tt.level, err)
			}
			if got := next.String(); got != tt.want {
				t.Errorf("NextVersion(%s, %d) = %s, want %s", tt.base, tt.level, got, tt.want)
			}
		})
	}
}

func TestNextVersionOutOfRange(t *testing.T) {
	base, err := ParseVersion("v1.2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := base.NextVersion(4); err == nil {
		t.Error("NextVersion(4) on a two-component version succeeded, want error")
	}
	if _, err := base.NextVersion(-1); err == nil {
		t.Error("NextVersion(-1) succeeded, want error")
	}
}
