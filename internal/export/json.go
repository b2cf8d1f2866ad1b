// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"

	"github.com/jeranaias/formchat/internal/storage"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter writes the transcript exactly as archived, raw replies
// included, so it can be read back. Options are ignored.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export converts a transcript to JSON.
func (e *JSONExporter) Export(t *storage.Transcript) ([]byte, error) {
	if err := validate(t); err != nil {
		return nil, err
	}
	return json.MarshalIndent(t, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
