// Package protocol defines the relay wire protocol: newline-delimited
// text frames over a reliable byte stream.
//
// Frame families:
//
//	identity handshake   raw identity line; reply OK|... or ERROR|...
//	text envelope        recipient|pageID:hexCiphertext
//	system notice        SYSTEM|message
//	voice audio          VOICE|roomID|sender|base64(nonce||ct||tag)
//	room control         ROOM|VERB|...
//
// The relay never inspects or transforms envelope payloads; parsing
// here extracts routing fields only.
package protocol
