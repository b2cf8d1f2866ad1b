// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/formchat/internal/model"
)

var errNoSession = errors.New("session not found")

type sessionRecord struct {
	summary        model.SessionSummary
	conversationID string
	interactions   []model.Interaction
}

// memStore holds all backend state.
type memStore struct {
	mu              sync.Mutex
	nextSession     int64
	nextInteraction int64
	sessions        map[int64]*sessionRecord
	templates       []model.Template
	resources       []model.Resource
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  make(map[int64]*sessionRecord),
		templates: defaultTemplates(),
		resources: defaultResources(),
	}
}

func (m *memStore) createSession(title string, userID, formulaID int64) (model.SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSession++
	rec := &sessionRecord{
		summary: model.SessionSummary{
			ID:              m.nextSession,
			UserID:          userID,
			Title:           title,
			StartTime:       model.Timestamp{Time: time.Now().UTC()},
			Status:          model.SessionActive,
			LinkedFormulaID: formulaID,
		},
		conversationID: uuid.NewString(),
	}
	m.sessions[rec.summary.ID] = rec
	return model.SessionInfo{ID: rec.summary.ID, ConversationID: rec.conversationID}, nil
}

func (m *memStore) listSessions(userID int64, status model.SessionStatus) []model.SessionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []model.SessionSummary{}
	for _, rec := range m.sessions {
		if userID > 0 && rec.summary.UserID != userID {
			continue
		}
		if status != "" && rec.summary.Status != status {
			continue
		}
		out = append(out, rec.summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) session(id int64) (model.SessionSummary, string, []model.Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok {
		return model.SessionSummary{}, "", nil, errNoSession
	}
	return rec.summary, rec.conversationID, append([]model.Interaction(nil), rec.interactions...), nil
}

func (m *memStore) deleteSession(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return errNoSession
	}
	delete(m.sessions, id)
	return nil
}

// addInteraction records a finished exchange and returns its ID together
// with the session's conversation ID.
func (m *memStore) addInteraction(sessionID int64, it model.Interaction) (int64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok {
		return 0, "", errNoSession
	}
	m.nextInteraction++
	it.ID = m.nextInteraction
	it.SessionID = sessionID
	it.CreatedOn = model.Timestamp{Time: time.Now().UTC()}
	rec.interactions = append(rec.interactions, it)
	if rec.summary.Summary == "" {
		rec.summary.Summary = it.Prompt
	}
	return it.ID, rec.conversationID, nil
}

func (m *memStore) hasSession(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

func (m *memStore) listTemplates() []model.Template {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Template(nil), m.templates...)
}

func (m *memStore) listResources(category string) []model.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []model.Resource{}
	for _, r := range m.resources {
		if category == "" || r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

func defaultTemplates() []model.Template {
	return []model.Template{
		{ID: "tpl-cost", Title: "Cost estimate", Category: "costing",
			Description:    "Estimate raw material cost per kilogram",
			PromptTemplate: "Estimate the raw material cost per kg for the attached formula."},
		{ID: "tpl-stability", Title: "Stability review", Category: "qa",
			Description:    "Flag stability risks in a formula",
			PromptTemplate: "Review this formula for pH, emulsion and preservative stability risks."},
		{ID: "tpl-substitute", Title: "Ingredient substitution", Category: "sourcing",
			Description:    "Suggest replacements for an ingredient",
			PromptTemplate: "Suggest drop-in substitutes for the named ingredient with usage levels."},
	}
}

func defaultResources() []model.Resource {
	return []model.Resource{
		{ID: 1, FileName: "supplier-quote-glycerin.pdf", Title: "Glycerin supplier quote", FileType: "application/pdf",
			FileSize: 48213, Category: model.ResourceCategoryQuotes, ApprovalStatus: "Approved",
			FileURL: "/files/supplier-quote-glycerin.pdf"},
		{ID: 2, FileName: "emulsifier-hlb-table.xlsx", Title: "Emulsifier HLB table",
			FileType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			FileSize: 20480, Category: model.ResourceCategoryKnowledge, ApprovalStatus: "Approved",
			FileURL: "/files/emulsifier-hlb-table.xlsx"},
		{ID: 3, FileName: "preservative-guide-draft.docx", Title: "Preservative guide (draft)",
			FileType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			FileSize: 1100, Category: model.ResourceCategoryKnowledge, ApprovalStatus: "Pending"},
	}
}
