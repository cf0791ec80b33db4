package sdl

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"*", "anything", true},
		{"", "anything", true},
		{"ue-*", "ue-17", true},
		{"ue-*", "cell-1", false},
		{"ue-?", "ue-1", true},
		{"ue-?", "ue-12", false},
		{"cell-[12]", "cell-2", true},
		{"cell-[12]", "cell-3", false},
		{"cell-[!12]", "cell-3", true},
		{"cell-[a-c]", "cell-b", true},
		{"a.b", "a.b", true},
		{"a.b", "axb", false},
		{`a\*`, "a*", true},
		{`a\*`, "ab", false},
		{"[oops", "[oops", true},
	}
	for _, tc := range cases {
		if got := Match(tc.pattern, tc.key); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}

func TestEtcdKeyLayout(t *testing.T) {
	if got := kvKey("app", "ue-1"); got != "/sdl/app/kv/ue-1" {
		t.Fatalf("kvKey = %q", got)
	}
	if got := memberKey("app", "cells", []byte{0x01, 0xff}); got != "/sdl/app/grp/cells/01ff" {
		t.Fatalf("memberKey = %q", got)
	}
	if _, err := OpenEtcd(EtcdConfig{}); err == nil {
		t.Fatal("expected error without endpoints")
	}
}
