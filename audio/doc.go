// Package audio converts between PCM samples and the voice frame
// payloads carried inside encrypted VOICE frames.
//
// Outgoing frames use raw s16le PCM behind a one-byte format marker.
// Incoming frames may additionally be Opus-encoded (decoded with
// pion/opus), so clients built on different capture stacks can share
// a room. Capture and playback devices are out of scope; callers feed
// and consume []int16 sample slices, and each client mixes received
// streams itself.
package audio
