// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TriggerID identifies a remote trigger registered in a Controller.
type TriggerID int32

// StopTriggerID is the wire id of the Stop control. It can't be registered with AddTrigger.
const StopTriggerID = TriggerID(TagBreak)

// Control is a message received by a Controller: either a Trigger or a Stop.
type Control interface {
	// From returns the rank that sent the control.
	From() int

	isControl()
}

// Trigger asks the receiving process to run the handler registered under ID, with the given argument.
type Trigger struct {
	ID     TriggerID
	Arg    []byte
	Source int
}

// From implements Control.
func (t Trigger) From() int { return t.Source }

func (Trigger) isControl() {}

// Stop asks the receiving process to leave its Serve loop.
type Stop struct {
	Source int
}

// From implements Control.
func (s Stop) From() int { return s.Source }

func (Stop) isControl() {}

// Handler of a remote trigger. Errors are logged by Serve, and don't interrupt it.
type Handler func(ctx context.Context, trigger Trigger) error

// Controller implements remote triggers (remote method invocation) over a PointToPoint transport.
//
// A trigger is sent as a TagControl header (trigger id and argument length), followed by the argument
// in a TagControlArg message if it is not empty.
type Controller struct {
	comm PointToPoint

	mu       sync.Mutex
	handlers map[TriggerID]Handler
}

// NewController creates a Controller with no triggers registered.
func NewController(comm PointToPoint) *Controller {
	return &Controller{
		comm:     comm,
		handlers: make(map[TriggerID]Handler),
	}
}

// Communicator used by the Controller.
func (c *Controller) Communicator() PointToPoint { return c.comm }

// AddTrigger registers the handler for the trigger id, replacing any previous one.
func (c *Controller) AddTrigger(id TriggerID, handler Handler) error {
	if id == StopTriggerID || id < 0 {
		return errors.Errorf("trigger id %d is reserved", id)
	}
	if handler == nil {
		return errors.Errorf("nil handler for trigger id %d", id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[id] = handler
	return nil
}

// RemoveTrigger unregisters the handler of the trigger id, if any.
func (c *Controller) RemoveTrigger(id TriggerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, id)
}

func (c *Controller) handler(id TriggerID) Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[id]
}

const controlHeaderSize = 8

func encodeControlHeader(id TriggerID, argLen int) []byte {
	header := make([]byte, controlHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(id))
	binary.LittleEndian.PutUint32(header[4:8], uint32(argLen))
	return header
}

func decodeControlHeader(header []byte) (id TriggerID, argLen int, err error) {
	if len(header) != controlHeaderSize {
		return 0, 0, errors.Errorf("invalid control header of %d bytes, wanted %d", len(header), controlHeaderSize)
	}
	id = TriggerID(int32(binary.LittleEndian.Uint32(header[0:4])))
	argLen = int(binary.LittleEndian.Uint32(header[4:8]))
	return
}

// Trigger sends the trigger id with arg to the dst rank.
func (c *Controller) Trigger(ctx context.Context, dst int, id TriggerID, arg []byte) error {
	if id == StopTriggerID {
		return errors.Errorf("use TriggerStop to send a Stop control")
	}
	return c.send(ctx, dst, id, arg)
}

// TriggerStop sends a Stop control to the dst rank.
func (c *Controller) TriggerStop(ctx context.Context, dst int) error {
	return c.send(ctx, dst, StopTriggerID, nil)
}

func (c *Controller) send(ctx context.Context, dst int, id TriggerID, arg []byte) error {
	if err := CheckRank(c.comm, dst, false); err != nil {
		return err
	}
	if err := c.comm.Send(ctx, dst, TagControl, encodeControlHeader(id, len(arg))); err != nil {
		return errors.WithMessagef(err, "sending trigger %d to rank %d", id, dst)
	}
	if len(arg) > 0 {
		if err := c.comm.Send(ctx, dst, TagControlArg, arg); err != nil {
			return errors.WithMessagef(err, "sending argument of trigger %d to rank %d", id, dst)
		}
	}
	return nil
}

// BroadcastTrigger sends the trigger to every other rank, in rank order.
func (c *Controller) BroadcastTrigger(ctx context.Context, id TriggerID, arg []byte) error {
	for rank := range c.comm.Size() {
		if rank == c.comm.Rank() {
			continue
		}
		if err := c.Trigger(ctx, rank, id, arg); err != nil {
			return err
		}
	}
	return nil
}

// BroadcastStop sends a Stop control to every other rank, in rank order.
func (c *Controller) BroadcastStop(ctx context.Context) error {
	for rank := range c.comm.Size() {
		if rank == c.comm.Rank() {
			continue
		}
		if err := c.TriggerStop(ctx, rank); err != nil {
			return err
		}
	}
	return nil
}

// ReceiveControl blocks until the next control arrives from src (or from anyone, if src is AnySource).
func (c *Controller) ReceiveControl(ctx context.Context, src int) (Control, error) {
	if err := CheckRank(c.comm, src, true); err != nil {
		return nil, err
	}
	msg, err := c.comm.Receive(ctx, src, TagControl)
	if err != nil {
		return nil, errors.WithMessagef(err, "rank %d waiting for control", c.comm.Rank())
	}
	id, argLen, err := decodeControlHeader(msg.Data)
	if err != nil {
		return nil, errors.WithMessagef(err, "control from rank %d", msg.Source)
	}
	if id == StopTriggerID {
		return Stop{Source: msg.Source}, nil
	}
	trigger := Trigger{ID: id, Source: msg.Source}
	if argLen > 0 {
		argMsg, err := c.comm.Receive(ctx, msg.Source, TagControlArg)
		if err != nil {
			return nil, errors.WithMessagef(err, "receiving argument of trigger %d from rank %d", id, msg.Source)
		}
		if len(argMsg.Data) != argLen {
			return nil, errors.Errorf("trigger %d from rank %d: argument has %d bytes, header announced %d",
				id, msg.Source, len(argMsg.Data), argLen)
		}
		trigger.Arg = argMsg.Data
	}
	return trigger, nil
}

// Serve runs the remote trigger loop: it waits for controls from src (or anyone, if src is AnySource) and
// runs the corresponding handlers, until a Stop control is received (it returns nil) or the transport fails.
//
// Unknown triggers and handler errors are logged and the loop continues.
func (c *Controller) Serve(ctx context.Context, src int) error {
	for {
		control, err := c.ReceiveControl(ctx, src)
		if err != nil {
			return err
		}
		switch ctl := control.(type) {
		case Stop:
			klog.V(1).Infof("rank %d: stop received from rank %d", c.comm.Rank(), ctl.Source)
			return nil
		case Trigger:
			handler := c.handler(ctl.ID)
			if handler == nil {
				klog.Warningf("rank %d: unknown trigger %d from rank %d ignored", c.comm.Rank(), ctl.ID, ctl.Source)
				continue
			}
			klog.V(2).Infof("rank %d: trigger %d from rank %d (%d bytes)", c.comm.Rank(), ctl.ID, ctl.Source, len(ctl.Arg))
			if err := handler(ctx, ctl); err != nil {
				klog.Errorf("rank %d: trigger %d failed: %+v", c.comm.Rank(), ctl.ID, err)
			}
		}
	}
}
