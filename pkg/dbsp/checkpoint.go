package dbsp

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/l7mp/dbsp/pkg/storage"
)

// stateID is the storage id of the state of a node.
func (c *Circuit) stateID(n *Node) string { return c.name + "/" + n.Name }

// Checkpoint writes the committed state of every stateful node to the store. It waits for a
// running tick to finish. The circuit record is written last, so an interrupted checkpoint
// cannot be restored.
func (c *Circuit) Checkpoint(ctx context.Context, store storage.Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRunning(); err != nil {
		return err
	}

	if err := store.DeleteRange(storage.OperatorPrefix(c.name)); err != nil {
		return NewPersistenceError(err, "circuit %s: invalidate checkpoint", c.name)
	}
	for _, n := range c.stateful {
		if err := n.Op.(Stateful).Checkpoint(ctx, store, c.stateID(n)); err != nil {
			return NewPersistenceError(err, "circuit %s: checkpoint node %s", c.name, n.Name)
		}
	}
	meta := binary.AppendUvarint(nil, c.clock)
	meta = binary.AppendUvarint(meta, uint64(len(c.stateful)))
	if err := store.Put(storage.MetaKey(c.name), meta); err != nil {
		return NewPersistenceError(err, "circuit %s: write checkpoint record", c.name)
	}
	c.log.V(1).Info("checkpoint written", "tick", c.clock, "nodes", len(c.stateful))
	return nil
}

// Restore replaces the state of the circuit with a checkpoint written by a circuit of the same
// shape. Restoring recovers a poisoned circuit. If the restore fails the circuit is poisoned.
func (c *Circuit) Restore(ctx context.Context, store storage.Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning && c.state != StatePoisoned {
		return c.checkRunning()
	}

	err := c.restore(ctx, store)
	if err != nil {
		c.state = StatePoisoned
		c.log.Error(err, "restore failed")
		return err
	}
	c.state = StateRunning
	c.log.V(1).Info("checkpoint restored", "tick", c.clock)
	return nil
}

func (c *Circuit) restore(ctx context.Context, store storage.Store) error {
	meta, err := store.Get(storage.MetaKey(c.name))
	if err != nil {
		return NewPersistenceError(err, "circuit %s: read checkpoint record", c.name)
	}
	clock, n := binary.Uvarint(meta)
	if n <= 0 {
		return NewPersistenceError(errors.New("invalid checkpoint record"), "circuit %s", c.name)
	}
	count, m := binary.Uvarint(meta[n:])
	if m <= 0 || n+m != len(meta) {
		return NewPersistenceError(errors.New("invalid checkpoint record"), "circuit %s", c.name)
	}
	if count != uint64(len(c.stateful)) {
		return NewPersistenceError(errors.Newf("checkpoint has %d stateful nodes, circuit has %d",
			count, len(c.stateful)), "circuit %s", c.name)
	}

	c.reset()
	for _, n := range c.stateful {
		if err := n.Op.(Stateful).Restore(ctx, store, c.stateID(n)); err != nil {
			return NewPersistenceError(err, "circuit %s: restore node %s", c.name, n.Name)
		}
	}
	c.clock = clock
	return nil
}
