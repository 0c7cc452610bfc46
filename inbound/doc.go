// Package inbound classifies verified webhook payloads and turns them
// into sync tasks. Handlers run on the acknowledgment path, so they
// only validate, construct, and enqueue; nothing here calls out to a
// platform API or writes entity state.
package inbound
