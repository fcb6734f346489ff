// Command paneclient is a small interactive CLI exercising the Client
// Library: it is the headless stand-in for the "surrounding application"
// spec §4.9 describes as a consumer of the daemon's pane-level contract.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"paned/client"
	"paned/internal/protocol"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})))

	c := client.New(client.Options{
		DaemonBinary: "paned",
		OnEvent:      printEvent,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := c.Connect(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Disconnect()

	fmt.Println("connected. commands: spawn <id> <mode>, write <id> <text>, wack <id> <text>, resize <id> <cols> <rows>, pause <id>, resume <id>, kill <id>, list, attach <id>, ping, health, shutdown, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if !runCommand(c, strings.TrimSpace(scanner.Text())) {
			break
		}
	}
}

func runCommand(c *client.Client, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	var err error
	switch fields[0] {
	case "quit", "exit":
		return false
	case "spawn":
		if len(fields) < 3 {
			fmt.Println("usage: spawn <id> <mode>")
			return true
		}
		err = c.Spawn(fields[1], fields[2], 80, 24)
	case "write":
		if len(fields) < 3 {
			fmt.Println("usage: write <id> <text>")
			return true
		}
		err = c.Write(fields[1], strings.Join(fields[2:], " ")+"\r")
	case "wack":
		if len(fields) < 3 {
			fmt.Println("usage: wack <id> <text>")
			return true
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		ack, ackErr := c.WriteAndWaitAck(ctx, fields[1], strings.Join(fields[2:], " ")+"\r")
		cancel()
		if ackErr != nil {
			err = ackErr
		} else {
			fmt.Printf("ack: status=%s reason=%s\n", ack.Status, ack.Reason)
		}
	case "resize":
		if len(fields) < 4 {
			fmt.Println("usage: resize <id> <cols> <rows>")
			return true
		}
		cols, _ := strconv.Atoi(fields[2])
		rows, _ := strconv.Atoi(fields[3])
		err = c.Resize(fields[1], cols, rows)
	case "pause":
		if len(fields) < 2 {
			fmt.Println("usage: pause <id>")
			return true
		}
		err = c.Pause(fields[1])
	case "resume":
		if len(fields) < 2 {
			fmt.Println("usage: resume <id>")
			return true
		}
		err = c.Resume(fields[1])
	case "kill":
		if len(fields) < 2 {
			fmt.Println("usage: kill <id>")
			return true
		}
		err = c.Kill(fields[1])
	case "list":
		err = c.List()
	case "attach":
		if len(fields) < 2 {
			fmt.Println("usage: attach <id>")
			return true
		}
		err = c.Attach(fields[1])
	case "ping":
		err = c.Ping()
	case "health":
		err = c.Health()
	case "shutdown":
		err = c.Shutdown()
	default:
		fmt.Printf("unknown command %q\n", fields[0])
		return true
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return true
}

func printEvent(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventData:
		fmt.Printf("[%s] %s", env.PaneID, env.Data)
	case protocol.EventError:
		fmt.Printf("error: %s\n", env.Message)
	default:
		fmt.Printf("event=%s paneId=%s\n", env.Event, env.PaneID)
	}
}
