package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roomwire-dev/roomwire/pkg/room"
	"github.com/roomwire-dev/roomwire/pkg/transport/ws"
)

func joinCmd() *cobra.Command {
	var (
		roomName string
		timeout  time.Duration
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "join <url>",
		Short: "Join a room and follow its state",
		Long: `Join a room on a running server and follow it from the terminal.

State snapshots, patches and messages are printed as they arrive.
Lines typed on stdin are sent to the room as application messages.
Ctrl+C leaves the room cleanly before exiting.

Examples:
  roomwire join ws://localhost:2567/rooms/lobby
  roomwire join ws://localhost:2567/rooms/game --room=game -v`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(args[0], roomName, timeout, verbose)
		},
	}

	cmd.Flags().StringVarP(&roomName, "room", "r", "lobby", "Room name to join")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "Connect timeout")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log protocol activity")

	return cmd
}

func runJoin(url, roomName string, timeout time.Duration, verbose bool) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	r, err := room.NewRoom(roomName, room.WithLogger(logger))
	if err != nil {
		return err
	}

	done := make(chan struct{})

	r.OnJoin(func() {
		info("joined %q as session %s (serializer %s)", r.Name(), r.SessionID(), r.SerializerName())
	})
	r.OnStateChange(func(state any) {
		fmt.Printf("state: %v\n", state)
	})
	r.OnMessage(func(message any) {
		fmt.Printf("message: %v\n", message)
	})
	r.OnError(func(err error) {
		errorMsg("%s", err)
	})
	r.OnLeave(func(reason string) {
		if reason != "" {
			info("left: %s", reason)
		} else {
			info("left")
		}
		close(done)
	})

	conn := ws.New(url, ws.WithLogger(logger))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.Connect(ctx, conn); err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}

	// Forward stdin lines as room messages.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if err := r.Send(line); err != nil {
				errorMsg("send: %s", err)
				return
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		info("leaving...")
		if err := r.Leave(true); err != nil {
			return err
		}
		select {
		case <-done:
		case <-time.After(timeout):
			return fmt.Errorf("timed out waiting for leave confirmation")
		}
	case <-done:
	}

	return nil
}
