package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
)

func main() {
	host := flag.String("h", "127.0.0.1", "server hostname")
	port := flag.Int("p", 9000, "server port")
	msg := flag.String("m", "", "send a single message, print one reply and exit")
	flag.Parse()

	addr := fmt.Sprintf("%s:%d", *host, *port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	if *msg != "" {
		if err := oneShot(conn, *msg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Server fan-out arrives at any time; print it as it comes.
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, "server closed the connection")
				os.Exit(0)
			}
		}
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		repl(conn)
		return
	}

	// Piped input: forward stdin line by line.
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if _, err := fmt.Fprintf(conn, "%s\n", sc.Text()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}

// oneShot is the minimal client: one write, one read, done.
func oneShot(conn net.Conn, msg string) error {
	if _, err := conn.Write([]byte(msg)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	fmt.Printf("%s\n", buf[:n])
	return nil
}

func repl(conn net.Conn) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			// io.EOF on ctrl-d, liner.ErrPromptAborted on ctrl-c
			return
		}
		if input != "" {
			line.AppendHistory(input)
		}
		if _, err := fmt.Fprintf(conn, "%s\n", input); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
	}
}
