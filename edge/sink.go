package edge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/synapse-agents/synapse/agent"
	"github.com/synapse-agents/synapse/core"
)

// ConsoleSink writes each consumed message to w as a colored line of the
// form "[keyword] sender: payload". Pass os.Stdout for terminal output.
func ConsoleSink(w io.Writer) agent.Sink {
	var mu sync.Mutex
	keywordColor := color.New(color.FgCyan, color.Bold)
	senderColor := color.New(color.FgYellow)
	return func(_ context.Context, msgs []core.Message) error {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range msgs {
			if _, err := fmt.Fprintf(w, "%s %s %s\n",
				keywordColor.Sprintf("[%s]", m.Keyword),
				senderColor.Sprintf("%s:", m.Sender),
				m.Payload); err != nil {
				return err
			}
		}
		return nil
	}
}

// FileSink appends each consumed message to path as a timestamped line.
// The file is opened per flush so external rotation works.
func FileSink(path string) agent.Sink {
	var mu sync.Mutex
	return func(_ context.Context, msgs []core.Message) error {
		mu.Lock()
		defer mu.Unlock()
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("edge: open sink file: %w", err)
		}
		defer f.Close()
		for _, m := range msgs {
			line := fmt.Sprintf("%s [%s] %s: %s\n",
				time.Now().Format(time.RFC3339), m.Keyword, m.Sender, m.Payload)
			if _, err := f.WriteString(line); err != nil {
				return fmt.Errorf("edge: write sink file: %w", err)
			}
		}
		return nil
	}
}

// FeedbackSink prints each consumed message to w, reads one reply line
// from r and publishes it back onto the bus as sourceID under keyword.
// This closes the loop for interactive human-in-the-loop agents.
func FeedbackSink(pub core.Publisher, sourceID, keyword string, r io.Reader, w io.Writer) agent.Sink {
	var mu sync.Mutex
	scanner := bufio.NewScanner(r)
	prompt := color.New(color.FgGreen).Sprint("feedback> ")
	return func(ctx context.Context, msgs []core.Message) error {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range msgs {
			if _, err := fmt.Fprintf(w, "%s: %s\n%s", m.Sender, m.Payload, prompt); err != nil {
				return err
			}
			if !scanner.Scan() {
				return scanner.Err()
			}
			reply := strings.TrimSpace(scanner.Text())
			if reply == "" {
				continue
			}
			pub.Publish(ctx, sourceID, keyword, reply)
		}
		return nil
	}
}
