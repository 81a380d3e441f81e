package gcode

import (
	"errors"
	"strings"
	"testing"
)

func TestDispatcherOrder(t *testing.T) {
	d := NewDispatcher()

	var calls []string
	d.AddHandler('G', 1, func(cmd *Command, reply *strings.Builder) error {
		calls = append(calls, "motion")
		return nil
	})
	d.AddHandler('G', 1, func(cmd *Command, reply *strings.Builder) error {
		calls = append(calls, "status")
		reply.WriteString("X moved\n")
		return nil
	})

	cmd := NewParser().Parse("G1 X1")[0]
	if !d.Dispatch(&cmd) {
		t.Fatal("Expected G1 to be handled")
	}
	if len(calls) != 2 || calls[0] != "motion" || calls[1] != "status" {
		t.Errorf("Handlers ran out of order: %v", calls)
	}
	if d.Result() != "X moved\nok\n" {
		t.Errorf("Unexpected result %q", d.Result())
	}
}

func TestDispatcherUnhandled(t *testing.T) {
	d := NewDispatcher()
	cmd := Command{Kind: 'M', Code: 999}
	if d.Dispatch(&cmd) {
		t.Error("Expected unregistered code to be unhandled")
	}
	if d.Result() != "" {
		t.Errorf("Expected empty result, got %q", d.Result())
	}
}

func TestDispatcherHandlerError(t *testing.T) {
	d := NewDispatcher()
	second := false
	d.AddHandler('M', 17, func(cmd *Command, reply *strings.Builder) error {
		return errors.New("busy")
	})
	d.AddHandler('M', 17, func(cmd *Command, reply *strings.Builder) error {
		second = true
		return nil
	})

	if !d.DispatchCode('M', 17) {
		t.Fatal("Expected M17 to be handled")
	}
	if second {
		t.Error("Chain should stop at the first error")
	}
	if d.Result() != "error:busy\n" {
		t.Errorf("Unexpected result %q", d.Result())
	}
}

func TestDispatchCodeArgs(t *testing.T) {
	d := NewDispatcher()
	var got float64
	d.AddHandler('m', 204, func(cmd *Command, reply *strings.Builder) error {
		got = cmd.GetParameter('S', 0)
		return nil
	})

	if !d.DispatchCode('M', 204, Arg{Letter: 's', Value: 1500}) {
		t.Fatal("Expected M204 to be handled")
	}
	if got != 1500 {
		t.Errorf("Expected S1500, got %v", got)
	}
}

func TestDispatcherRemoveHandler(t *testing.T) {
	d := NewDispatcher()
	count := 0
	h := func(cmd *Command, reply *strings.Builder) error {
		count++
		return nil
	}
	id1 := d.AddHandler('G', 28, h)
	id2 := d.AddHandler('G', 28, h)

	if !d.RemoveHandler(id1) {
		t.Error("Expected first handler to be removed")
	}
	if d.RemoveHandler(id1) {
		t.Error("Second removal should fail")
	}
	d.DispatchCode('G', 28)
	if count != 1 {
		t.Errorf("Expected one remaining handler to run, ran %d", count)
	}

	d.RemoveHandler(id2)
	if d.HasHandler('G', 28) {
		t.Error("Expected no handlers left for G28")
	}

	d.AddHandler('G', 4, h)
	d.ClearHandlers()
	if d.DispatchCode('G', 4) {
		t.Error("Expected no handlers after ClearHandlers")
	}
}
