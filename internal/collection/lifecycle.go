package collection

// Close transitions the collection through Closing to Closed: new
// mutations are refused, tasks already queued run to completion, then a
// final checkpoint and WAL compaction are performed. The ordering is:
// stop timers (owned by the database root, not this type), drain the
// queue, final checkpoint, compact the WAL, release the directory
// lock, mark Closed.
//
// Admission, not execution, is what gates on Closing: queue.stop() atomically
// refuses new submissions and then drains whatever was already queued,
// so c.state only flips to Closing once that drain has finished. Flipping it
// earlier would let a task accepted before Close() was called observe
// Closing once it is dequeued and fail spuriously, contradicting the
// "tasks accepted prior to Closing run to completion" contract.
func (c *Collection) Close() error {
	c.closeOnce.Do(func() {
		c.queue.stop()

		c.stateMu.Lock()
		c.state = StateClosing
		c.stateMu.Unlock()

		c.closeErr = c.performCheckpoint()

		if err := c.dirLock.Release(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}

		c.stateMu.Lock()
		c.state = StateClosed
		c.stateMu.Unlock()
	})
	return c.closeErr
}
