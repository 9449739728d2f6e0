// Command mutation-stats reads JSON server logs from stdin and summarizes the
// mutation events emitted by the gateway.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

func main() {
	var (
		outPath     string
		eventName   string
		eventDomain string
	)
	flag.StringVar(&outPath, "out", "", "path to write aggregated metrics JSON")
	flag.StringVar(&eventName, "event-name", mutationEventName, "observability event name to collect")
	flag.StringVar(&eventDomain, "event-domain", mutationEventDomain, "observability event domain to match")
	flag.Parse()

	if outPath == "" {
		log.Fatal("-out is required")
	}

	c := newCollector(eventName, eventDomain)
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			c.ingest(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			log.Fatalf("read logs: %v", err)
		}
	}

	summary := c.summary()
	if err := writeSummary(outPath, summary); err != nil {
		log.Fatalf("write summary: %v", err)
	}
	fmt.Println(summary.ShortString())
}

func writeSummary(path string, summary summaryOutput) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := sonic.ConfigStd.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
