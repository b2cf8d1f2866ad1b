// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package attach turns the user's current attachment picks into the list of
// descriptors sent with a prompt.
//
// Picks come in two shapes: local files and references to catalog entries.
// References are tagged with a category (plain resource, quote, knowledge
// base item, template) that decides the label prefix shown in transcripts.
// Build never fails; entries missing what the wire format needs are dropped.
package attach

import (
	"sort"
	"strings"

	"github.com/jeranaias/formchat/internal/model"
)

// Category tags a reference with the picker it came from.
type Category int

const (
	CategoryResource Category = iota
	CategoryQuote
	CategoryKnowledge
	CategoryTemplate
)

// Prefix returns the label prefix for the category.
func (c Category) Prefix() string {
	switch c {
	case CategoryQuote:
		return "Quote: "
	case CategoryKnowledge:
		return "KB: "
	case CategoryTemplate:
		return "Template: "
	default:
		return ""
	}
}

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryQuote:
		return "quote"
	case CategoryKnowledge:
		return "knowledge"
	case CategoryTemplate:
		return "template"
	default:
		return "resource"
	}
}

// LocalFile is a file picked from the local machine.
type LocalFile struct {
	Name     string
	Size     int64
	MimeType string
}

// Reference points at an entry of the resource library or template list.
type Reference struct {
	ID       string
	Label    string
	URL      string
	Category Category
}

// Selection is the set of attachments picked for the next prompt.
type Selection struct {
	Files      []LocalFile
	References []Reference
}

// AddFile adds a local file to the selection.
func (s *Selection) AddFile(f LocalFile) {
	s.Files = append(s.Files, f)
}

// AddReference adds a reference unless one with the same category and ID is
// already selected. It reports whether the reference was added.
func (s *Selection) AddReference(ref Reference) bool {
	for _, r := range s.References {
		if r.Category == ref.Category && r.ID == ref.ID {
			return false
		}
	}
	s.References = append(s.References, ref)
	return true
}

// Len returns the number of picked entries.
func (s *Selection) Len() int {
	return len(s.Files) + len(s.References)
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.Files = nil
	s.References = nil
}

// Build returns the wire descriptors for sel: local files first, then
// references grouped by category in the order resource, quote, knowledge
// base, template. The result is nil when nothing usable was selected.
func Build(sel Selection) []model.Attachment {
	var out []model.Attachment

	for _, f := range sel.Files {
		name := strings.TrimSpace(f.Name)
		if name == "" || f.Size < 0 {
			continue
		}
		out = append(out, model.Attachment{
			Kind:        model.AttachmentLocalFile,
			DisplayName: name,
			SizeLabel:   FormatFileSize(f.Size),
			MimeType:    f.MimeType,
		})
	}

	refs := append([]Reference(nil), sel.References...)
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].Category < refs[j].Category
	})
	for _, r := range refs {
		id := strings.TrimSpace(r.ID)
		label := strings.TrimSpace(r.Label)
		if id == "" || label == "" {
			continue
		}
		out = append(out, model.Attachment{
			Kind:        model.AttachmentResourceReference,
			DisplayName: r.Category.Prefix() + label,
			ResourceID:  model.RefID(id),
			URL:         r.URL,
		})
	}
	return out
}
