// Package command serializes all changes to the gateway twin.
//
// A Thread owns a twin.Twin and runs Commands one at a time on a
// single-worker pool. Each command gets a fresh notification accumulator
// tagged with a transaction ID:
//
//	res, err := thread.Execute(ctx, func(ctx context.Context, tw *twin.Twin, acc notification.Accumulator) (any, error) {
//		return nil, tw.SetValue(acc, path, 21.5, time.Now())
//	})
//
// When the command returns without error the accumulator is completed and
// its notifications reach the sink. When it fails, the twin is restored to
// its state before the command and nothing is delivered.
//
// Changes that do not belong to a command use Immediate, whose accumulator
// delivers each notification as it is reported.
package command
