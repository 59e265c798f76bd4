package lbrun

import (
	"context"
	"fmt"

	"github.com/frankframework/ladybug"
)

// Replay is a Rerunner that makes the point calls recorded by the original
// report, in order, each on a context carrying the original thread name.
// Replaying a report without stubs reproduces it.
var Replay Rerunner = RerunnerFunc(replay)

func replay(ctx context.Context, t *ladybug.Tracer, correlationID string, original *ladybug.Report) error {
	var (
		c       = original.Clone()
		pending []string // child thread ids, in ThreadCreatepoint order
	)

	for _, cp := range c.Checkpoints {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			tctx    = ladybug.WithThread(ctx, cp.ThreadName)
			message = cp.Value()
		)

		switch cp.Type {
		case ladybug.Startpoint:
			t.Startpoint(tctx, correlationID, cp.SourceClassName, cp.Name, message)
		case ladybug.Endpoint:
			t.Endpoint(tctx, correlationID, cp.SourceClassName, cp.Name, message)
		case ladybug.Abortpoint:
			t.Abortpoint(tctx, correlationID, cp.SourceClassName, cp.Name, message)
		case ladybug.Inputpoint:
			t.Inputpoint(tctx, correlationID, cp.SourceClassName, cp.Name, message)
		case ladybug.Outputpoint:
			t.Outputpoint(tctx, correlationID, cp.SourceClassName, cp.Name, message)
		case ladybug.Infopoint:
			t.Infopoint(tctx, correlationID, cp.SourceClassName, cp.Name, message)
		case ladybug.ThreadCreatepoint:
			t.ThreadCreatepoint(tctx, correlationID, cp.Name)
			pending = append(pending, cp.Name)
		case ladybug.ThreadStartpoint:
			var childID string
			childID, pending = claimChild(pending, cp.ThreadName)
			t.ThreadStartpoint(tctx, correlationID, childID, cp.SourceClassName, cp.Name, message)
		case ladybug.ThreadEndpoint:
			t.ThreadEndpoint(tctx, correlationID, cp.SourceClassName, cp.Name, message)
		default:
			return fmt.Errorf("checkpoint %d: unknown type %s", cp.Index, cp.Type)
		}
	}

	return nil
}

// claimChild picks the child thread id started by a ThreadStartpoint on the
// given thread: the id equal to the thread name, or else the oldest.
func claimChild(pending []string, thread string) (string, []string) {
	if len(pending) <= 0 {
		return thread, pending
	}
	for i, id := range pending {
		if id == thread {
			return id, append(pending[:i:i], pending[i+1:]...)
		}
	}
	return pending[0], pending[1:]
}
