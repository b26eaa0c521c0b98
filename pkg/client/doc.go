// Package client implements the receiving side of GhostWatch streams.
//
// A Client fetches the server's current dictionary over HTTP, follows
// dict_update announcements, and decodes batched data frames into
// individual messages. Frames that need a dictionary still being fetched
// are buffered and delivered in arrival order once it arrives.
//
//	c, err := client.Dial(ctx, client.Config{URL: "ws://localhost:8080/ws"},
//		func(m client.Message) { fmt.Printf("%s\n", m.Data) })
//	if err != nil {
//		return err
//	}
//	defer c.Close()
package client
