// Command streamload opens many concurrent subscriptions to the dashboard
// session stream and reports how many session updates each one received and
// which states were observed.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	updates     atomic.Int64
	badPayloads atomic.Int64

	mu     sync.Mutex
	states map[string]int64
}

func (c *counters) observe(state string) {
	c.mu.Lock()
	c.states[state]++
	c.mu.Unlock()
}

func (c *counters) summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.states))
	for k := range c.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, c.states[k]))
	}
	return fmt.Sprintf("connected=%d connect_errs=%d stream_errs=%d updates=%d bad_payloads=%d states[%s]",
		c.connected.Load(), c.connectErrs.Load(), c.streamErrs.Load(), c.updates.Load(), c.badPayloads.Load(),
		strings.Join(parts, " "))
}

// sessionUpdate is the part of a session event the tool inspects.
type sessionUpdate struct {
	Session struct {
		State string `json:"state"`
	} `json:"session"`
}

func main() {
	var (
		targetURL   string
		connections int
		duration    time.Duration
		rampUp      time.Duration
	)

	flag.StringVar(&targetURL, "url", "http://localhost:8080/session/stream", "session stream URL")
	flag.IntVar(&connections, "conns", 200, "number of concurrent subscriptions")
	flag.DurationVar(&duration, "dur", 30*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", time.Second, "spread subscription starts across this window")
	flag.Parse()

	if connections <= 0 {
		log.Fatalf("invalid conns: %d", connections)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 10,
			MaxIdleConnsPerHost: connections + 10,
			DisableCompression:  true,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		},
	}

	stats := &counters{states: make(map[string]int64)}
	log.Printf("subscribing: url=%s conns=%d dur=%s ramp=%s", targetURL, connections, duration, rampUp)

	go report(ctx, stats)

	start := time.Now()
	var step time.Duration
	if rampUp > 0 {
		step = rampUp / time.Duration(connections)
	}

	g := new(errgroup.Group)
	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && step > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(step):
			}
		}
		g.Go(func() error {
			subscribe(ctx, client, targetURL, stats)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	fmt.Printf("done in %s: %s updates/s=%.2f\n",
		elapsed.Truncate(time.Millisecond), stats.summary(), float64(stats.updates.Load())/elapsed.Seconds())
}

func subscribe(ctx context.Context, client *http.Client, url string, stats *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		stats.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		stats.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		stats.connectErrs.Add(1)
		return
	}
	stats.connected.Add(1)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "session":
			var upd sessionUpdate
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &upd); err != nil {
				stats.badPayloads.Add(1)
				continue
			}
			stats.updates.Add(1)
			stats.observe(upd.Session.State)
		case line == "":
			event = ""
		}
	}
	if ctx.Err() == nil {
		stats.streamErrs.Add(1)
	}
}

func report(ctx context.Context, stats *counters) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("status: %s", stats.summary())
		}
	}
}
