package update

import (
	"context"

	"viewsync/pkg/logger"
)

// DeferredDeleteTask is deletion work scheduled to run after the statement
// that made its targets orphans has succeeded.
type DeferredDeleteTask interface {
	Execute(ctx context.Context, uc *Context) error
}

// DeferredDeleteFunc adapts a function to DeferredDeleteTask.
type DeferredDeleteFunc func(ctx context.Context, uc *Context) error

// Execute implements DeferredDeleteTask.
func (f DeferredDeleteFunc) Execute(ctx context.Context, uc *Context) error { return f(ctx, uc) }

// OrphanLog is an append-only task log. Truncate is the only way to drop entries.
type OrphanLog struct {
	tasks []DeferredDeleteTask
}

// Append adds tasks at the end of the log.
func (l *OrphanLog) Append(tasks ...DeferredDeleteTask) {
	l.tasks = append(l.tasks, tasks...)
}

// Len returns the number of queued tasks, usable as a watermark.
func (l *OrphanLog) Len() int { return len(l.tasks) }

// Since returns a copy of the tasks appended at or after mark.
func (l *OrphanLog) Since(mark int) []DeferredDeleteTask {
	if mark >= len(l.tasks) {
		return nil
	}
	return append([]DeferredDeleteTask(nil), l.tasks[mark:]...)
}

// Truncate drops every task appended at or after mark.
func (l *OrphanLog) Truncate(mark int) {
	if mark < 0 {
		mark = 0
	}
	if mark >= len(l.tasks) {
		return
	}
	clear(l.tasks[mark:])
	l.tasks = l.tasks[:mark]
}

// Context is the state of one flush or delete operation. It borrows the
// session for the lifetime of the surrounding transaction and must not be
// reused across operations.
type Context struct {
	session Session
	orphans OrphanLog
}

// NewContext creates a context over session.
func NewContext(session Session) *Context {
	return &Context{session: session}
}

// Session returns the borrowed session.
func (c *Context) Session() Session { return c.session }

// Enqueue appends orphan removal tasks.
func (c *Context) Enqueue(tasks ...DeferredDeleteTask) {
	c.orphans.Append(tasks...)
}

// OrphanRemovalQueue returns a snapshot of the queued tasks.
func (c *Context) OrphanRemovalQueue() []DeferredDeleteTask {
	return c.orphans.Since(0)
}

// Watermark returns the current queue position.
func (c *Context) Watermark() int { return c.orphans.Len() }

// RollbackQueueTo discards tasks queued after mark.
func (c *Context) RollbackQueueTo(mark int) {
	c.orphans.Truncate(mark)
}

// RunOrphansFrom executes and removes the tasks queued at or after mark, in
// queue order. Tasks queued while running are executed in the same call.
func (c *Context) RunOrphansFrom(ctx context.Context, mark int) error {
	for c.orphans.Len() > mark {
		pending := c.orphans.Since(mark)
		c.orphans.Truncate(mark)
		for i, task := range pending {
			if err := task.Execute(ctx, c); err != nil {
				logger.Warn(ctx, "orphan removal failed", "task", i+1, "of", len(pending), "error", err)
				return err
			}
		}
	}
	return nil
}

// RunDeferred executes every queued task.
func (c *Context) RunDeferred(ctx context.Context) error {
	return c.RunOrphansFrom(ctx, 0)
}
