// Package engine wires all Conveyor subsystems together: the job
// registry, hook registry, middleware chain, retry scheduler, worker
// pool, recurring scheduler, and stats collector all hang off one
// Engine.
//
// This package exists to break the import cycle: the root conveyor
// package defines Entity and the error taxonomy (imported by job, dlq,
// recurring, etc.) and so cannot import those packages back. The engine
// package sits above all subsystem packages and below the application
// layer.
//
// Typical use:
//
//	s := memory.New()
//	eng, err := engine.New(s,
//		engine.WithQueues("default", "emails"),
//		engine.WithConcurrency(8),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	engine.Register(eng, job.NewDefinition("emails",
//		func(ctx context.Context, p EmailPayload) (EmailReceipt, error) {
//			return send(ctx, p)
//		},
//	))
//
//	if err := eng.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Stop(ctx)
//
//	engine.Enqueue(ctx, eng, "emails", EmailPayload{To: "a@b.c"})
package engine
