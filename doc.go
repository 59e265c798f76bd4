// Package ladybug records reports of what an application did while it
// processed a message, for debugging and regression testing.
//
// Application code calls point functions on a [Tracer]: [Tracer.Startpoint]
// when it starts a unit of work, [Tracer.Endpoint] when it's done, and
// [Tracer.Inputpoint], [Tracer.Outputpoint] or [Tracer.Infopoint] for anything
// of interest in between. Every call carries a correlation id. Calls with the
// same correlation id are merged into one [Report], a list of checkpoints with
// nesting levels, which closes automatically once every level is balanced.
// Closed reports are handed to a [ReportSink], typically a log storage from
// package lbstore, lbfile, or lbsql.
//
// Work that forks into goroutines can stay in one report. The parent calls
// [Tracer.ThreadCreatepoint] with an id for the child, and the child calls
// [Tracer.ThreadStartpoint] with the same id, using a context carrying its own
// thread name, see [WithThread]. The child's checkpoints are placed directly
// after the point where it was created, no matter when they arrive.
//
// Point functions return their message, so that they can wrap expressions in
// place. Stream messages, i.e. an [io.Reader], [io.ReadCloser], or
// [io.WriteCloser], are returned as wrappers that copy everything that flows
// through them into the checkpoint. The report stays open until every such
// stream is closed.
//
// Problems with the way point calls are made, e.g. unbalanced levels or
// unannounced goroutines, never surface as errors to the application. They're
// logged, counted, and available via [Tracer.Warnings].
package ladybug
