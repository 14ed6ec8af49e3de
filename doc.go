/*
Package foundry keeps a human-in-the-loop drafting dashboard in sync with a multi-agent
clinical protocol pipeline.

The backend streams its progress as Server-Sent Events. Foundry decodes the stream into
records, folds every record into a single session snapshot and, when the pipeline pauses
for review, relays the human decision (approve or revise) back to the backend.

# Architecture

  - pkg/protocol: frame decoding and tolerant record interpretation (Frame Decoder, Event Interpreter).
  - internal/runtime: the pure merge of records into a SessionState and the review buffer.
  - pkg/session: the Controller, the only writer of the session, gating approve and revise.
  - pkg/adapters: the backend HTTP client, the dashboard API, the MCP server and redis fan-out.
  - cmd/foundry: the CLI (run, serve, mcp, status, watch).

# Usage

	client := http.NewClient("http://127.0.0.1:8000")
	ctrl := session.NewController(client)
	defer ctrl.Close()

	if err := ctrl.Start(ctx, "Draft a sepsis management protocol"); err != nil {
		log.Fatal(err)
	}
	if ctrl.Snapshot().Reviewing() {
		err = ctrl.Approve(ctx, "")
	}
*/
package foundry
