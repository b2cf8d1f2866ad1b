// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attach

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/jeranaias/formchat/internal/model"
)

// LocalFileFromPath stats path and sniffs its content type.
func LocalFileFromPath(path string) (LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return LocalFile{}, fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return LocalFile{}, fmt.Errorf("attachment %s is a directory", path)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return LocalFile{}, fmt.Errorf("detect content type: %w", err)
	}
	mime, _, _ := strings.Cut(mt.String(), ";")

	return LocalFile{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MimeType: mime,
	}, nil
}

// ResourceCategory maps a library category to the picker category.
func ResourceCategory(category string) Category {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case model.ResourceCategoryQuotes:
		return CategoryQuote
	case model.ResourceCategoryKnowledge:
		return CategoryKnowledge
	default:
		return CategoryResource
	}
}

// FromResource builds a reference to a library resource.
func FromResource(r model.Resource, category Category) Reference {
	ref := Reference{
		Label:    r.Label(),
		URL:      r.FileURL,
		Category: category,
	}
	if r.ID > 0 {
		ref.ID = strconv.FormatInt(r.ID, 10)
	}
	return ref
}

// FromTemplate builds a reference to a prompt template.
func FromTemplate(t model.Template) Reference {
	return Reference{
		ID:       t.ID,
		Label:    t.Title,
		Category: CategoryTemplate,
	}
}
