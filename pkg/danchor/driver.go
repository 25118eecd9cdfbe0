package danchor

import (
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Task is one independent, idempotent target computation.
type Task struct {
	// Kind is "category" or "brand"; Label is the category label or brand id.
	Kind  string
	Label string
}

// RunOptions bound a driver run.
type RunOptions struct {
	OutDir          string
	SnapshotTS      string
	PrimaryCutoffS  int
	OverflowCutoffS int
	KernelThreads   int
	MaxWorkers      int
}

// Run schedules one shard per task onto a bounded worker pool. A failed
// task logs, marks the run failed, and leaves sibling shards intact; the
// returned error reports the failure count.
func Run(ctx *Context, tasks []Task, opt RunOptions) error {
	if len(tasks) == 0 {
		return nil
	}
	workers := opt.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	var g errgroup.Group
	g.SetLimit(workers)

	failures := make([]error, len(tasks))
	for i, task := range tasks {
		g.Go(func() error {
			if err := runOne(ctx, task, opt); err != nil {
				slog.Error("shard failed", "kind", task.Kind, "label", task.Label, "err", err)
				failures[i] = err
			}
			return nil // siblings keep running
		})
	}
	g.Wait()

	failed := 0
	for _, err := range failures {
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d shards failed", failed, len(tasks))
	}
	return nil
}

func runOne(ctx *Context, task Task, opt RunOptions) (err error) {
	defer func() {
		// A panic inside a worker is converted to a failed-task marker so a
		// single bad shard does not destroy sibling output. This includes
		// kernel precondition panics (zero-weight edge, out-of-range source),
		// since the kernel runs inside this task.
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var sources []int32
	var path string
	switch task.Kind {
	case "category":
		sources = ctx.sourcesForCategory(task.Label)
		path = CategoryShardPath(opt.OutDir, uint8(ctx.Mode), task.Label)
	case "brand":
		sources = ctx.sourcesForBrand(task.Label)
		path = BrandShardPath(opt.OutDir, uint8(ctx.Mode), task.Label)
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}

	res := ctx.Compute(sources, opt.PrimaryCutoffS, opt.OverflowCutoffS, opt.KernelThreads)

	summary, err := ValidateSeconds(res.Seconds)
	if err != nil {
		return err
	}

	if task.Kind == "category" {
		if err := WriteShard(path, ctx.CategoryRows(res, task.Label, opt.SnapshotTS)); err != nil {
			return err
		}
	} else {
		if err := WriteShard(path, ctx.BrandRows(res, task.Label, opt.SnapshotTS)); err != nil {
			return err
		}
	}

	slog.Info("shard written",
		"kind", task.Kind, "label", task.Label, "path", path,
		"rows", summary.Rows, "p50_s", summary.P50, "p95_s", summary.P95,
		"unreach_frac", summary.UnreachFrac)
	return nil
}
