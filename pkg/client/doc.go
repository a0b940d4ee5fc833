// Package client is the Go SDK for the openfilz audit chain service.
//
// Collaborators use it to record mutating actions and operators use it to
// inspect and verify the chain.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(os.Getenv("AUDIT_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Recording an action
//
//	entry, err := c.Record(ctx, client.RecordRequest{
//	    Action:       "CREATE_FOLDER",
//	    ResourceType: "FOLDER",
//	    ResourceID:   folderID,
//	    Metadata:     map[string]any{"name": "Invoices"},
//	})
//
// Record returns (nil, nil) when the action is currently excluded from the
// chain.
//
// # Verifying the chain
//
//	res, err := c.Verify(ctx)
//	if err == nil && !res.Valid() {
//	    log.Printf("chain broken at entry %d", res.BrokenLink.EntryID)
//	}
package client
