// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the state of the open chat conversation.
//
// State owns the session identifiers and the ordered message list. While a
// reply streams, the pending assistant message is bound to the generation
// number of the stream that feeds it; updates carrying any other generation
// are rejected, so a superseded stream can never touch the transcript.
//
// # Key Types
//
//   - State: session identifiers, messages and the pending-reply binding
//   - Final: the outcome written into a reply when its stream ends
//   - Snapshot: an immutable copy of the state for rendering or archiving
//
// # Usage
//
//	st := session.NewState()
//	if _, err := st.EnsureSession(ctx, client, model.DefaultSessionTitle, userID); err != nil {
//	    return err
//	}
//	st.AppendUserMessage("Hello", nil)
//	st.AppendPendingAssistantMessage(gen)
//	st.ApplyStreamChunk(gen, raw, display)
//	st.FinalizeAssistantMessage(gen, session.Final{Text: display})
package session
