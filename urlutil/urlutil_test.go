package urlutil

import "testing"

func TestSplitTarget(t *testing.T) {
	path, q := SplitTarget("/a/b?x=1&y=2")
	if path != "/a/b" || q != "x=1&y=2" {
		t.Fatalf("got %q, %q", path, q)
	}
	path, q = SplitTarget("/a/b")
	if path != "/a/b" || q != "" {
		t.Fatalf("got %q, %q", path, q)
	}
}

func TestParseQuery(t *testing.T) {
	v := ParseQuery("a=b&c&a=d")
	if got := v.Get("a"); got != "b" {
		t.Fatalf("a = %q", got)
	}
	if got := v["a"]; len(got) != 2 || got[1] != "d" {
		t.Fatalf("a values = %v", got)
	}
	if _, ok := v["c"]; !ok || v.Get("c") != "" {
		t.Fatalf("c should be present with empty value, got %v", v["c"])
	}
}

func TestQueryUnescapeRoundTrip(t *testing.T) {
	cases := map[string]string{
		"hello+world":  "hello world",
		"a%20b":        "a b",
		"100%25":       "100%",
		"no-escapes":   "no-escapes",
	}
	for in, want := range cases {
		got, err := QueryUnescape(in)
		if err != nil {
			t.Fatalf("QueryUnescape(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("QueryUnescape(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQueryUnescapeInvalid(t *testing.T) {
	if _, err := QueryUnescape("100%"); err == nil {
		t.Fatalf("expected error for truncated escape")
	}
	if _, err := QueryUnescape("100%zz"); err == nil {
		t.Fatalf("expected error for non-hex escape")
	}
}

func TestValidHostHeader(t *testing.T) {
	if !ValidHostHeader("example.com:8080") {
		t.Fatalf("expected valid")
	}
	if !ValidHostHeader("[::1]:8080") {
		t.Fatalf("expected valid ipv6")
	}
	if ValidHostHeader("exa mple.com") {
		t.Fatalf("space should be invalid")
	}
}
