// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the chat client.
//
// These are the wire and domain types for a formulation chat: sessions,
// the user/assistant messages of a conversation, attachments sent with a
// prompt and the events decoded from a streamed reply.
//
// # Key Types
//
//   - Message: one user prompt or assistant reply, possibly still streaming
//   - Attachment: a local file or resource reference sent with a prompt
//   - StreamEvent: one decoded frame of a streamed reply
//   - Question: a structured follow-up question asked by the assistant
//   - SessionInfo, SessionSummary, Interaction: backend session records
//   - Template, Resource: catalog entries that can be attached by reference
//
// # Usage
//
//	user := model.NewUserMessage("Suggest a thickener", nil)
//	reply := model.NewAssistantMessage()
//	reply.Response = "Try xanthan gum."
//	reply.IsStreaming = false
package model
