// Command stepcore-sim runs the controller on a host. Step pins are held in
// memory and the tick interrupt is a goroutine, so a G-code program can be
// exercised without hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stepcore/core"
	"stepcore/host/serial"
	"stepcore/standalone"
	"stepcore/standalone/config"
)

func main() {
	s, err := parseSettings(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if err := run(s); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(s settings) error {
	cfg := config.DefaultCartesianConfig()
	if s.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadFile(s.ConfigPath); err != nil {
			return err
		}
	}

	if s.Debug {
		core.SetDebugWriter(func(msg string) { log.Print(msg) })
		core.SetDebugEnabled(true)
		core.InitAsyncDebug()
	}

	in, out, closeIO, err := openIO(s)
	if err != nil {
		return err
	}
	defer closeIO()

	mgr, err := standalone.NewManagerWithConfig(cfg)
	if err != nil {
		return err
	}
	if s.StorePath != "" {
		mgr.SetStore(&config.FileStore{Path: s.StorePath})
	}
	var outMu sync.Mutex
	mgr.SetReplyFunc(func(b []byte) {
		outMu.Lock()
		defer outMu.Unlock()
		if _, err := out.Write(b); err != nil {
			log.Printf("reply: %v", err)
		}
	})

	gpio := core.NewMemoryGPIO()
	if err := mgr.Initialize(gpio); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticks := core.NewTickerSource(cfg.TickFrequency, s.Wake)
	if err := ticks.Start(mgr.IssueTicks); err != nil {
		return err
	}
	defer ticks.Stop()

	if err := mgr.Start(); err != nil {
		return err
	}
	log.Printf("stepcore-sim: %s machine, %d Hz tick", cfg.Kinematics, cfg.TickFrequency)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mgr.RunCompletion(gctx)
	})
	g.Go(func() error {
		// End of input stops the simulator
		defer cancel()
		if err := readCommands(gctx, in, mgr.ProcessByte); err != nil {
			return err
		}
		if mgr.IsExecuting() {
			return waitIdle(gctx, mgr)
		}
		return nil
	})
	err = g.Wait()

	mgr.Stop()
	pos := mgr.Motion().Positions()
	log.Printf("final position X:%.3f Y:%.3f Z:%.3f E:%.3f", pos[0], pos[1], pos[2], pos[3])
	return err
}

// openIO returns the command input and reply output
func openIO(s settings) (io.Reader, io.Writer, func(), error) {
	if s.Device == "" {
		return os.Stdin, os.Stdout, func() {}, nil
	}
	port, err := serial.OpenWithRetry(&serial.Config{Device: s.Device, Baud: s.Baud, ReadTimeout: 100}, 0)
	if err != nil {
		return nil, nil, nil, err
	}
	return port, port, func() { port.Close() }, nil
}

// waitIdle returns once the queued program has run out
func waitIdle(ctx context.Context, mgr *standalone.Manager) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for !mgr.IsIdle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// readCommands feeds input to the command context byte by byte until EOF
// or ctx ends. A serial port with a read timeout returns no data while
// idle.
func readCommands(ctx context.Context, r io.Reader, process func(byte)) error {
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			process(b)
		}
		if errors.Is(err, io.EOF) {
			if _, ok := r.(*os.File); ok {
				return nil
			}
			continue
		}
		if err != nil {
			return err
		}
	}
}
