// Package extension provides the Forge extension for mounting the outbox.
//
// The extension integrates the outbox into a Forge application by:
//   - Running store migrations on registration
//   - Building the outbox from YAML configuration and explicit options
//   - Mounting the webhook and admin routes with OpenAPI metadata under a
//     configurable base path
//   - Starting the worker pool and retry scheduler on application start
//   - Draining in-flight attempts on shutdown
//   - Providing health checks via store.Ping
//
// Usage:
//
//	ext := extension.New(
//	    extension.WithStore(postgresStore),
//	    extension.WithBasePath("/v1"),
//	)
//	if err := ext.Register(ctx, router, log); err != nil {
//	    return err
//	}
//	return ext.Start(ctx)
package extension
