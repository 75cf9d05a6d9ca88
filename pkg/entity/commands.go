package entity

import "context"

// command is the closed set of messages handled by the worker.
type command interface {
	requestContext() context.Context
	reject(err error)
}

type reply[T any] struct {
	val T
	err error
}

// persistCommand carries a business command. reply is nil for Tell.
type persistCommand[C any] struct {
	ctx   context.Context
	cmd   C
	reply chan reply[Result]
}

func (c *persistCommand[C]) requestContext() context.Context { return c.ctx }

func (c *persistCommand[C]) reject(err error) {
	if c.reply != nil {
		c.reply <- reply[Result]{err: err}
	}
}

type snapshotCommand struct {
	ctx   context.Context
	reply chan reply[uint64]
}

func (c *snapshotCommand) requestContext() context.Context { return c.ctx }
func (c *snapshotCommand) reject(err error) { c.reply <- reply[uint64]{err: err} }

type inspectCommand[S any] struct {
	ctx   context.Context
	reply chan reply[View[S]]
}

func (c *inspectCommand[S]) requestContext() context.Context { return c.ctx }
func (c *inspectCommand[S]) reject(err error) { c.reply <- reply[View[S]]{err: err} }
