// Package outbox provides the action outbox behind the GraniteShield lead
// engine: durable, prioritized, at-least-once dispatch of CRM-triggered side
// effects to SMS, voice-AI, ad-attribution and internal email providers.
//
// Every side effect is first persisted as a record with an idempotency key,
// then run through its action's handler. Failures retry with exponential
// backoff up to three attempts; records that cannot succeed are parked in the
// dead-letter queue and the team is alerted exactly once.
//
// Key features:
//   - Closed set of actions, each with a JSON Schema for its payload
//   - Priority tiers P0–P3 with per-tier handler timeouts and SLA tracking
//   - Conditional status transitions, safe across processes
//   - Worker pool with strict priority order, plus a retry sweep
//   - Dead-letter inspection and replay
//   - Pluggable stores (Memory, Postgres, SQLite, MongoDB, Redis)
//   - Forge-native routes with a plain net/http fallback
//
// Quick start:
//
//	o, err := outbox.New(
//	    outbox.WithStore(memory.New()),
//	    outbox.WithWebhookSecret(secret),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	o.Start(ctx)
//	defer o.Stop(ctx)
//
//	rec, err := o.Submit(ctx, event.Draft{
//	    Action:   event.ActionSMSSend,
//	    Priority: event.P0,
//	    Payload:  json.RawMessage(`{"to":"+12072103282","message":"Hi Dana"}`),
//	})
package outbox
