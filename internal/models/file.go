package models

import "encoding/json"

const (
	// EntryFile marks a leaf entry
	EntryFile = "file"
	// EntryDirectory marks an entry with children
	EntryDirectory = "directory"
)

// Entry represents one node of the shared tree, relative to the root
type Entry struct {
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Children []Entry `json:"children,omitempty"`
}

// IsDir reports whether the entry is a directory
func (e Entry) IsDir() bool {
	return e.Type == EntryDirectory
}

// MarshalJSON always writes children for directories, so an empty directory
// encodes as "children": [] while files carry no children at all
func (e Entry) MarshalJSON() ([]byte, error) {
	if !e.IsDir() {
		type file Entry
		return json.Marshal(file(e))
	}

	children := e.Children
	if children == nil {
		children = []Entry{}
	}
	return json.Marshal(struct {
		Type     string  `json:"type"`
		Name     string  `json:"name"`
		Path     string  `json:"path"`
		Children []Entry `json:"children"`
	}{e.Type, e.Name, e.Path, children})
}

// NewFileEntry creates a leaf entry
func NewFileEntry(name, path string) Entry {
	return Entry{Type: EntryFile, Name: name, Path: path}
}

// NewDirectoryEntry creates a directory entry. Children is never nil.
func NewDirectoryEntry(name, path string, children []Entry) Entry {
	if children == nil {
		children = []Entry{}
	}
	return Entry{Type: EntryDirectory, Name: name, Path: path, Children: children}
}

// ArchiveSummary describes a built archive without its content
type ArchiveSummary struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Size    int64  `json:"size"`
}

// TextContent is the scratch text payload
type TextContent struct {
	Content string `json:"content"`
}
