// Package client implements the device side of the relay protocol:
// the connection and identity handshake, one-time-pad text messaging,
// and password-derived voice room sessions.
//
// The relay only ever sees opaque payloads; all pad allocation,
// encryption and decryption happens here.
//
// Example:
//
//	c, err := client.New(client.Config{
//	    ServerAddr: "relay.example.org:65432",
//	    Identity:   "alicedev123",
//	    DataDir:    "/home/alice/otp_data",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c.OnMessage(func(sender, text string) {
//	    fmt.Printf("%s: %s\n", sender, text)
//	})
//	if err := c.Connect(); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := c.SendMessage("bobdevice01", "hello"); err != nil {
//	    log.Fatal(err)
//	}
package client
