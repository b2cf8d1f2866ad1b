// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// AttachmentKind distinguishes uploaded files from catalog references.
type AttachmentKind string

const (
	AttachmentLocalFile         AttachmentKind = "local_file"
	AttachmentResourceReference AttachmentKind = "resource_reference"
)

// Attachment is a descriptor sent with a prompt.
//
// Local files carry a human-readable SizeLabel and MimeType. Resource
// references carry the ResourceID and URL of the catalog entry.
type Attachment struct {
	Kind        AttachmentKind `json:"attachment_type"`
	DisplayName string         `json:"file_name"`
	SizeLabel   string         `json:"file_size,omitempty"`
	MimeType    string         `json:"mime_type,omitempty"`
	ResourceID  RefID          `json:"resource_id,omitempty"`
	URL         string         `json:"file_url,omitempty"`
}

// IsReference reports whether the attachment points at a catalog entry.
func (a Attachment) IsReference() bool {
	return a.Kind == AttachmentResourceReference
}

// RefID identifies a catalog entry. Library resources have numeric IDs and
// templates have string IDs; numeric IDs travel as JSON numbers.
type RefID string

// MarshalJSON implements json.Marshaler.
func (id RefID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *RefID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RefID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = RefID(n.String())
	return nil
}
