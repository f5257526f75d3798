// Package voicecore implements the realtime voice conversation core for a
// browser-delivered standardized-patient encounter client: the Connection
// Orchestrator FSM, WebRTC peer/data-channel lifecycle, transcript
// reconciliation across the realtime service's audio and text delta
// streams, adaptive voice-activity recommendations, instruction syncing,
// and the event-emitter surface the UI observes.
//
// The controller is the sole owner of the peer connection, data channel,
// mic stream, and backend socket for its lifetime; callers interact with
// it only through the Controller's methods, the event listeners it
// accepts, and the Handle snapshots returned by Controller.Snapshot.
package voicecore
