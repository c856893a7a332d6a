// Package service implements the runner: registration with the backend, the
// heartbeat and the processing of assigned jobs.
//
// Overview
// The Supervisor registers the runner through the Session and then runs two
// loops in an errgroup. The Heartbeat tells the backend the runner is alive
// and learns about new jobs and abort requests. The JobHandler fetches a
// claimed job, runs the engine and submits the result. Both share a JobSlot,
// the only mutable state between them.
//
// Data flow:
//
//	Heartbeat                 JobSlot                  JobHandler          Engine
//	    |                        |                         |                  |
//	    | job_assigned -> Claim()|                         |                  |
//	    |       placeholder set, notify ------------------>| Wait()           |
//	    |                        |<--- Populate(id) -------| retrieve info    |
//	    |                        |                         | retrieve audio   |
//	    |                        |                         | Transcribe() --->|
//	    |                        |<------------ SetProgress(percent) ---------|
//	    | Progress() ----------->|                         |                  |
//	    | abort -> Abort() ----->|------ ErrJobAborted on next progress ----->|
//	    |                        |                         |<-- transcript ---|
//	    |                        |<--- Complete()/Fail() --|                  |
//	    |                        |<--- Result() -----------| submit result    |
//	    |                        |<--- Clear() ------------|                  |
//
// Invariants:
//   - At most one job is in flight. A claim only succeeds on an empty slot.
//   - The placeholder is set before the handler is notified.
//   - A submission carries exactly one of transcript and error_msg.
//   - An aborted job is always submitted as "job was aborted".
//   - The engine runs on its own goroutine and is never preempted. Aborts
//     are delivered through the progress callback.
//   - Heartbeat failures are retried until no heartbeat succeeded for longer
//     than the timeout.
//   - Every other failure outside of the engine is a *ShutdownSignal: both
//     loops stop, the runner unregisters and the process exits.
//
// internal/service/supervisor_test.go is the best source about how the parts
// are wired together.
package service
