// Command stream-load holds many concurrent /api/stream connections open and
// counts the view frames they receive.
package main

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const maxBackoff = 5 * time.Second

type counters struct {
	frames   atomic.Uint64
	ready    atomic.Uint64
	attempts atomic.Uint64
	failures atomic.Uint64
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("load .env: %v", err)
	}
	streamURL := getenv("STREAM_URL", "http://localhost:8080/api/stream")
	conns := getenvInt("SSE_CONNECTIONS", 200)
	duration := time.Duration(getenvInt("DURATION_SEC", 120)) * time.Second
	tokens := loadTokens(os.Getenv("TEST_TOKENS_FILE"), os.Getenv("TEST_BEARER"))
	if len(tokens) == 0 {
		log.Fatal("missing TEST_BEARER or TEST_TOKENS_FILE")
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var stats counters
	client := &http.Client{}
	var wg sync.WaitGroup
	wg.Add(conns)
	for i := range conns {
		go func(token string) {
			defer wg.Done()
			consume(ctx, client, streamURL, token, &stats)
		}(tokens[i%len(tokens)])
	}

	go func() {
		select {
		case <-time.After(60 * time.Second):
			if stats.ready.Load() == 0 {
				log.Error("no ready frame received in 60s")
				os.Exit(1)
			}
		case <-ctx.Done():
		}
	}()

	wg.Wait()
	attempts := stats.attempts.Load()
	failures := stats.failures.Load()
	failureRate := 0.0
	if attempts > 0 {
		failureRate = float64(failures) / float64(attempts)
	}
	log.WithFields(log.Fields{
		"connections":         conns,
		"duration_sec":        int(duration.Seconds()),
		"frames_received":     stats.frames.Load(),
		"ready_frames":        stats.ready.Load(),
		"connection_failures": failures,
	}).Info("stream load finished")
	if stats.ready.Load() == 0 || failureRate > 0.01 {
		os.Exit(1)
	}
}

// consume keeps one stream open until ctx ends, reconnecting with backoff.
func consume(ctx context.Context, client *http.Client, url, token string, stats *counters) {
	backoff := time.Second
	fail := func() {
		stats.failures.Add(1)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
	for ctx.Err() == nil {
		stats.attempts.Add(1)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			fail()
			continue
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "text/event-stream")
		resp, err := client.Do(req)
		if err != nil || resp.StatusCode != http.StatusOK {
			if resp != nil {
				resp.Body.Close()
			}
			fail()
			continue
		}
		backoff = time.Second
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			stats.frames.Add(1)
			if isReady(strings.TrimSpace(strings.TrimPrefix(line, "data:"))) {
				stats.ready.Add(1)
			}
		}
		resp.Body.Close()
		if ctx.Err() != nil {
			return
		}
		fail()
	}
}

func isReady(frame string) bool {
	var v struct {
		State string `json:"state"`
	}
	if err := sonic.UnmarshalString(frame, &v); err != nil {
		return false
	}
	return v.State == "ready"
}

func loadTokens(path, single string) []string {
	if path == "" {
		if single == "" {
			return nil
		}
		return []string{single}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read tokens: %v", err)
	}
	var tokens []string
	if err := sonic.Unmarshal(data, &tokens); err != nil {
		log.Fatalf("decode tokens: %v", err)
	}
	return tokens
}
