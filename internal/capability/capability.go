// Package capability holds the admin capability table: which usernames may
// post updates, manage users or read the logs. The table is configuration,
// injected into every service that authorizes an action.
package capability

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is the capability record of one username.
type Entry struct {
	Tag            string `yaml:"tag" json:"tag"`
	TickColor      string `yaml:"tick_color" json:"tickColor,omitempty"`
	CanPost        bool   `yaml:"can_post" json:"canPost"`
	CanManageUsers bool   `yaml:"can_manage_users" json:"canManageUsers"`
	CanViewLogs    bool   `yaml:"can_view_logs" json:"canViewLogs"`
}

// Table maps normalized usernames to entries. The zero value grants nothing.
type Table struct {
	entries map[string]Entry
}

// New builds a table; keys are lower-cased so lookups are case-insensitive.
func New(entries map[string]Entry) *Table {
	t := &Table{entries: make(map[string]Entry, len(entries))}
	for name, e := range entries {
		t.entries[normalize(name)] = e
	}
	return t
}

// Default is the built-in community staff table.
func Default() *Table {
	return New(map[string]Entry{
		"krsxh":     {Tag: "Semxy Owner", TickColor: "red", CanPost: true, CanManageUsers: true, CanViewLogs: true},
		"lord":      {Tag: "Axorn Owner", TickColor: "green", CanPost: true, CanManageUsers: true, CanViewLogs: true},
		"teamaxorn": {Tag: "Axorn Official account", TickColor: "blue", CanPost: true},
		"ghost":     {Tag: "Leader", TickColor: "blue"},
	})
}

type fileFormat struct {
	Admins map[string]Entry `yaml:"admins"`
}

// Load reads a YAML table of the form
//
//	admins:
//	  lord:
//	    tag: Axorn Owner
//	    can_post: true
func Load(path string) (*Table, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capability file: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, fmt.Errorf("parse capability file: %w", err)
	}
	return New(f.Admins), nil
}

// For returns the entry for username, if any.
func (t *Table) For(username string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	e, ok := t.entries[normalize(username)]
	return e, ok
}

// IsAdmin reports whether username has an entry at all (it may hold no
// capability, like a tag-only leader).
func (t *Table) IsAdmin(username string) bool {
	_, ok := t.For(username)
	return ok
}

func (t *Table) CanPostUpdate(username string) bool {
	e, _ := t.For(username)
	return e.CanPost
}

func (t *Table) CanManageUsers(username string) bool {
	e, _ := t.For(username)
	return e.CanManageUsers
}

func (t *Table) CanViewLogs(username string) bool {
	e, _ := t.For(username)
	return e.CanViewLogs
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
