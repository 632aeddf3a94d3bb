package edge

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/synapse-agents/synapse/core"
	"github.com/synapse-agents/synapse/logging"
)

// StdinOptions configures a StdinProducer.
type StdinOptions struct {
	// Reader overrides os.Stdin, mainly for tests.
	Reader io.Reader
	Logger logging.Logger
}

// StdinProducer publishes each input line onto the bus. A line of the form
// "keyword: payload" overrides the default keyword; anything else is
// published verbatim under the default.
type StdinProducer struct {
	pub      core.Publisher
	sourceID string
	keyword  string
	reader   io.Reader
	logger   logging.Logger
}

// NewStdinProducer constructs a producer publishing as sourceID under the
// given default keyword.
func NewStdinProducer(pub core.Publisher, sourceID, keyword string, optFns ...func(o *StdinOptions)) *StdinProducer {
	opts := StdinOptions{Reader: os.Stdin}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &StdinProducer{
		pub:      pub,
		sourceID: sourceID,
		keyword:  keyword,
		reader:   opts.Reader,
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// Run reads lines until EOF or ctx cancellation. Blank lines are skipped.
func (p *StdinProducer) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(p.reader)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		keyword, payload := p.keyword, line
		if kw, rest, ok := strings.Cut(line, ":"); ok && !strings.ContainsAny(kw, " \t") && kw != "" {
			keyword, payload = kw, strings.TrimSpace(rest)
		}

		n := p.pub.Publish(ctx, p.sourceID, keyword, payload)
		if n == 0 {
			p.logger.Warn("input had no destinations", "keyword", keyword)
		}
	}
	return scanner.Err()
}
