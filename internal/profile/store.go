// Package profile owns the on-disk Clash configuration document. All
// knowledge of the document shape lives here; other packages only see
// group names, member lists and probe results.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/clash-tidy/internal/clash"
)

const (
	proxiesKey = "proxies"
	groupsKey  = "proxy-groups"
	nameKey    = "name"
)

// Store holds the document as a yaml node tree rather than a decoded
// map, so top-level key order, unrelated sections and non-ASCII text
// all survive the round trip back to disk.
type Store struct {
	path string
	doc  yaml.Node
}

// Load reads and parses the configuration document.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	s := &Store{path: path}
	if err := yaml.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}
	if s.root() == nil {
		return nil, fmt.Errorf("config document is not a mapping")
	}
	return s, nil
}

// GroupNames returns every proxy-group name in document order.
func (s *Store) GroupNames() []string {
	var names []string
	for _, group := range s.groupNodes() {
		if name := mappingValue(group, nameKey); name != nil {
			names = append(names, name.Value)
		}
	}
	return names
}

// GroupMembers returns the current membership of a named group, empty
// when the group is absent or has no explicit member list.
func (s *Store) GroupMembers(name string) []string {
	group := s.findGroup(name)
	if group == nil {
		return nil
	}
	members := mappingValue(group, proxiesKey)
	if members == nil || members.Kind != yaml.SequenceNode {
		return nil
	}
	out := make([]string, 0, len(members.Content))
	for _, member := range members.Content {
		out = append(out, member.Value)
	}
	return out
}

// RemoveInvalid drops every endpoint whose latest probe failed from
// the master proxy list and from every group's membership, keeping the
// relative order of the survivors. Idempotent; a no-op when every
// result is alive.
func (s *Store) RemoveInvalid(results []clash.Result) {
	invalid := make(map[string]struct{})
	for _, r := range results {
		if !r.Alive {
			invalid[r.Name] = struct{}{}
		}
	}
	if len(invalid) == 0 {
		return
	}

	removed := 0
	if master := mappingValue(s.root(), proxiesKey); master != nil && master.Kind == yaml.SequenceNode {
		kept := master.Content[:0:0]
		for _, def := range master.Content {
			name := mappingValue(def, nameKey)
			if name != nil {
				if _, bad := invalid[name.Value]; bad {
					removed++
					continue
				}
			}
			kept = append(kept, def)
		}
		master.Content = kept
	}

	for _, group := range s.groupNodes() {
		members := mappingValue(group, proxiesKey)
		if members == nil || members.Kind != yaml.SequenceNode {
			continue
		}
		kept := members.Content[:0:0]
		for _, member := range members.Content {
			if _, bad := invalid[member.Value]; bad {
				continue
			}
			kept = append(kept, member)
		}
		members.Content = kept
	}

	if removed > 0 {
		log.Infof("Removed %d dead endpoints from the configuration", removed)
	}
}

// UpdateGroup rewrites a group's membership to the valid results
// sorted ascending by delay. Ties keep their original relative order.
// Duplicate results for one name collapse to the minimum delay seen.
func (s *Store) UpdateGroup(name string, results []clash.Result) {
	s.RemoveInvalid(results)

	index := make(map[string]int)
	var ordered []clash.Result
	for _, r := range results {
		if !r.Alive {
			continue
		}
		if i, seen := index[r.Name]; seen {
			if r.DelayMs < ordered[i].DelayMs {
				ordered[i].DelayMs = r.DelayMs
			}
			continue
		}
		index[r.Name] = len(ordered)
		ordered = append(ordered, r)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DelayMs < ordered[j].DelayMs
	})

	group := s.findGroup(name)
	if group == nil {
		return
	}

	members := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, r := range ordered {
		members.Content = append(members.Content, &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Value: r.Name,
		})
	}
	setMappingValue(group, proxiesKey, members)
}

// Save serializes the document back to its original path. The write
// goes to a temp file first and renames over the original, so a failed
// write leaves the previous configuration intact.
func (s *Store) Save() error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	enc := yaml.NewEncoder(tmp)
	enc.SetIndent(2)
	if err := enc.Encode(&s.doc); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode config YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush config YAML: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

// Path returns the document's on-disk location.
func (s *Store) Path() string { return s.path }

func (s *Store) root() *yaml.Node {
	if s.doc.Kind != yaml.DocumentNode || len(s.doc.Content) == 0 {
		return nil
	}
	root := s.doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	return root
}

func (s *Store) groupNodes() []*yaml.Node {
	groups := mappingValue(s.root(), groupsKey)
	if groups == nil || groups.Kind != yaml.SequenceNode {
		return nil
	}
	return groups.Content
}

func (s *Store) findGroup(name string) *yaml.Node {
	for _, group := range s.groupNodes() {
		if n := mappingValue(group, nameKey); n != nil && n.Value == name {
			return group
		}
	}
	return nil
}

// mappingValue returns the value node for a key in a mapping node.
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func setMappingValue(mapping *yaml.Node, key string, value *yaml.Node) {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = value
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}
