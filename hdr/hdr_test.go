package hdr

import "testing"

func TestCanonicalHeaderKey(t *testing.T) {
	cases := map[string]string{
		"content-type": "Content-Type",
		"HOST":         "Host",
		"x-custom-id":  "X-Custom-Id",
	}
	for in, want := range cases {
		if got := CanonicalHeaderKey(in); got != want {
			t.Errorf("CanonicalHeaderKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMappingGetSetCaseInsensitive(t *testing.T) {
	m := NewMapping(4)
	m.Add(KindHeader, "content-type", "text/plain")
	if v, ok := m.Get(KindHeader, "Content-Type"); !ok || v != "text/plain" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
}

func TestMappingPreservesInsertionOrder(t *testing.T) {
	m := NewMapping(4)
	m.Add(KindGetArgument, "a", "1")
	m.Add(KindGetArgument, "b", "2")
	m.Add(KindGetArgument, "a", "3")

	var got []string
	m.Each(KindGetArgument, func(name, value string) bool {
		got = append(got, name+"="+value)
		return true
	})
	want := []string{"a=1", "b=2", "a=3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMappingDelRemovesAllOfKindAndName(t *testing.T) {
	m := NewMapping(4)
	m.Add(KindCookie, "session", "a")
	m.Add(KindCookie, "session", "b")
	m.Add(KindCookie, "other", "c")
	m.Del(KindCookie, "session")
	if got := m.GetAll(KindCookie, "session"); len(got) != 0 {
		t.Fatalf("GetAll after Del = %v", got)
	}
	if got := m.GetAll(KindCookie, "other"); len(got) != 1 {
		t.Fatalf("unrelated entry removed: %v", got)
	}
}

func TestValidHeaderFieldNamePermissive(t *testing.T) {
	if !ValidHeaderFieldName("X_Legacy", true) {
		t.Fatalf("underscore name should be tolerated in permissive mode")
	}
	if ValidHeaderFieldName("X_Legacy", false) {
		t.Fatalf("underscore name should be rejected in strict mode")
	}
	if ValidHeaderFieldName("Bad Name", true) {
		t.Fatalf("space in name should never be tolerated")
	}
}
