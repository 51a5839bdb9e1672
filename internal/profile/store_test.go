package profile

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/clash-tidy/internal/clash"
)

const testDoc = `port: 7890
mode: rule
proxies:
  - name: "a"
    type: ss
    server: a.example.com
    port: 443
  - name: "b"
    type: ss
    server: b.example.com
    port: 443
  - name: "c"
    type: ss
    server: c.example.com
    port: 443
proxy-groups:
  - name: "auto"
    type: url-test
    proxies:
      - "a"
      - "b"
      - "c"
  - name: "手动选择"
    type: select
    proxies:
      - "a"
      - "c"
rules:
  - "MATCH,auto"
`

func writeDoc(t *testing.T, content string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clash_config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func ok(name string, delayMs int64) clash.Result {
	return clash.Result{Name: name, DelayMs: delayMs, Alive: true}
}

func fail(name string) clash.Result {
	return clash.Result{Name: name}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("proxies: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestGroupNames(t *testing.T) {
	s := writeDoc(t, testDoc)
	got := s.GroupNames()
	want := []string{"auto", "手动选择"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GroupNames=%v, want=%v", got, want)
	}
}

func TestGroupMembers(t *testing.T) {
	s := writeDoc(t, testDoc)
	if got, want := s.GroupMembers("auto"), []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("members=%v, want=%v", got, want)
	}
	if got := s.GroupMembers("missing"); len(got) != 0 {
		t.Fatalf("members of absent group=%v, want empty", got)
	}
}

func TestRemoveInvalid(t *testing.T) {
	s := writeDoc(t, testDoc)
	results := []clash.Result{ok("a", 120), fail("b"), ok("c", 80)}

	s.RemoveInvalid(results)

	if got, want := s.GroupMembers("auto"), []string{"a", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("auto members=%v, want=%v", got, want)
	}
	// b must be gone from the master proxy list as well.
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "b.example.com") {
		t.Fatal("master proxy list still contains removed endpoint b")
	}
}

func TestRemoveInvalid_Idempotent(t *testing.T) {
	s := writeDoc(t, testDoc)
	results := []clash.Result{fail("b")}

	s.RemoveInvalid(results)
	once := s.GroupMembers("auto")
	s.RemoveInvalid(results)
	twice := s.GroupMembers("auto")

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("second apply changed members: %v vs %v", once, twice)
	}
}

func TestRemoveInvalid_NoFailures(t *testing.T) {
	s := writeDoc(t, testDoc)
	s.RemoveInvalid([]clash.Result{ok("a", 10), ok("b", 20)})
	if got, want := s.GroupMembers("auto"), []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("members=%v, want=%v", got, want)
	}
}

func TestUpdateGroup_SortsByDelay(t *testing.T) {
	s := writeDoc(t, testDoc)
	results := []clash.Result{ok("a", 120), fail("b"), ok("c", 80)}

	s.UpdateGroup("auto", results)

	if got, want := s.GroupMembers("auto"), []string{"c", "a"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("auto members=%v, want=%v", got, want)
	}
}

func TestUpdateGroup_StableOnTies(t *testing.T) {
	s := writeDoc(t, testDoc)
	results := []clash.Result{ok("a", 100), ok("b", 100), ok("c", 100)}

	s.UpdateGroup("auto", results)

	if got, want := s.GroupMembers("auto"), []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("equal delays must keep original order: %v, want=%v", got, want)
	}
}

func TestUpdateGroup_DedupKeepsMinimumDelay(t *testing.T) {
	s := writeDoc(t, testDoc)
	results := []clash.Result{ok("a", 200), ok("c", 150), ok("a", 90)}

	s.UpdateGroup("auto", results)

	if got, want := s.GroupMembers("auto"), []string{"a", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("auto members=%v, want=%v", got, want)
	}
}

func TestUpdateGroup_AbsentGroupIsNoop(t *testing.T) {
	s := writeDoc(t, testDoc)
	s.UpdateGroup("missing", []clash.Result{ok("a", 10)})
	if got, want := s.GroupMembers("auto"), []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("unrelated group changed: %v, want=%v", got, want)
	}
}

func TestSave_RoundTripPreservesUnrelatedSections(t *testing.T) {
	s := writeDoc(t, testDoc)
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)

	for _, want := range []string{"port: 7890", "mode: rule", "MATCH,auto", "手动选择"} {
		if !strings.Contains(text, want) {
			t.Fatalf("saved document lost %q:\n%s", want, text)
		}
	}
	// Top-level key order must be insertion order, not alphabetical.
	if strings.Index(text, "port:") > strings.Index(text, "proxies:") {
		t.Fatal("top-level key order not preserved")
	}

	reloaded, err := Load(s.Path())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got, want := reloaded.GroupNames(), s.GroupNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("groups after round trip=%v, want=%v", got, want)
	}
	if got, want := reloaded.GroupMembers("auto"), s.GroupMembers("auto"); !reflect.DeepEqual(got, want) {
		t.Fatalf("members after round trip=%v, want=%v", got, want)
	}
}

func TestSave_WritesAtomically(t *testing.T) {
	s := writeDoc(t, testDoc)
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp-") {
			t.Fatalf("temp file %s left behind", entry.Name())
		}
	}
}
