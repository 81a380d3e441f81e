// Command stepcore-host streams G-code to a stepcore controller over a
// serial port.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"stepcore/host/serial"
	"stepcore/host/stream"
)

var (
	device  = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud    = flag.Int("baud", 115200, "Baud rate (ignored for USB CDC)")
	file    = flag.String("file", "", "G-code file to stream (interactive if empty)")
	lps     = flag.Float64("rate", 0, "Maximum lines per second (0 = unlimited)")
	run     = flag.Bool("run", true, "Send run after streaming a file")
	timeout = flag.Duration("timeout", 10*time.Second, "Wait for each acknowledgement")
	verbose = flag.Bool("verbose", false, "Print every reply")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("connecting to %s", *device)
	port, err := serial.OpenWithRetry(&serial.Config{Device: *device, Baud: *baud, ReadTimeout: 100}, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer port.Close()

	s := stream.New(port, *lps)
	s.Timeout = *timeout
	s.Unsolicited = func(line string) { log.Print(line) }

	if _, err := s.Control(ctx, "connected"); err != nil {
		log.Fatalf("controller did not answer: %v", err)
	}

	if *file != "" {
		if err := streamFile(ctx, s, *file); err != nil {
			log.Fatal(err)
		}
		return
	}
	interactive(ctx, s, os.Stdin)
}

func streamFile(ctx context.Context, s *stream.Streamer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	n, err := s.Stream(ctx, f, func(line string, reply stream.Reply) {
		if *verbose {
			printReply(line, reply)
		}
	})
	if err != nil {
		return fmt.Errorf("after %d lines: %w", n, err)
	}
	log.Printf("sent %d lines in %v", n, time.Since(start).Round(time.Millisecond))

	if *run {
		if _, err := s.Control(ctx, "run"); err != nil {
			return err
		}
	}
	return nil
}

// interactive sends lines typed on r. A line starting with '!' is a
// control command ("!run", "!hold", "!stats").
func interactive(ctx context.Context, s *stream.Streamer, r io.Reader) {
	fmt.Println("Enter G-code, !<control> for internal commands, quit to exit")
	sc := bufio.NewScanner(r)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "quit" || line == "exit":
			return
		}

		var reply stream.Reply
		var err error
		if strings.HasPrefix(line, "!") {
			reply, err = s.Control(ctx, line[1:])
		} else {
			reply, err = s.Send(ctx, line)
		}
		if err != nil {
			log.Printf("%s: %v", line, err)
			if ctx.Err() != nil {
				return
			}
			continue
		}
		printReply(line, reply)
	}
	if err := sc.Err(); err != nil {
		log.Printf("reading input: %v", err)
	}
}

func printReply(line string, reply stream.Reply) {
	for _, l := range reply.Lines {
		fmt.Println(l)
	}
	if reply.Unhandled {
		fmt.Printf("(%s not handled)\n", line)
	}
}
