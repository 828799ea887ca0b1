package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/classcast/live-app/loadtest/client"
	"github.com/classcast/live-app/loadtest/stats"
)

// runChat implements the room chat load test. It connects N users, spreads
// them across the given live sessions, and has each user send clean chat
// messages at a steady rate for the test duration. Each message embeds its
// send timestamp, so every receiving client can measure the full
// publish -> NATS -> fan-out -> delivery latency.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	metricsURL := fs.String("metrics", "", "Prometheus metrics URL to scrape (e.g. http://localhost:8080/metrics)")
	secret := fs.String("secret", "", "JWT secret matching the server's JWT_SECRET")
	lives := fs.String("lives", "", "comma-separated live session IDs to join (rows must exist with allow_chat=true)")
	userPrefix := fs.String("user-prefix", "", "user ID prefix; users <prefix>0..<prefix>N-1 must exist in the users table")
	users := fs.Int("users", 100, "Number of simulated users")
	duration := fs.Duration("duration", 60*time.Second, "Test duration after all users have joined")
	rate := fs.Float64("rate", 0.5, "Messages per user per second (keep under the 10/10s per-user limit)")
	fs.Parse(args)

	if *secret == "" || *lives == "" || *userPrefix == "" {
		fmt.Fprintln(os.Stderr, "chat: -secret, -lives and -user-prefix are required")
		os.Exit(1)
	}
	liveIDs := strings.Split(*lives, ",")

	fmt.Printf("Chat test: %d users across %d sessions on %s (duration=%s, rate=%.2f msg/s/user)\n",
		*users, len(liveIDs), *url, *duration, *rate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 5*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	// -----------------------------------------------------------------------
	// Connect and join phase
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Connect phase ---")

	var mu sync.Mutex
	clients := make([]*client.Client, 0, *users)

	var wg sync.WaitGroup
	sem := make(chan struct{}, 50)

	for i := 0; i < *users; i++ {
		i := i
		wg.Add(1)
		sem <- struct{}{}

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			userID := fmt.Sprintf("%s%d", *userPrefix, i)
			liveID := liveIDs[i%len(liveIDs)]

			token, err := client.SignToken([]byte(*secret), userID, 24*time.Hour)
			if err != nil {
				collector.AddError()
				return
			}

			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			c, err := client.New(connCtx, *url, userID, token)
			if err != nil {
				collector.AddError()
				return
			}
			collector.AddConnect(c.GetMetrics().ConnectLatency)

			// Measure delivery latency from the timestamp each sender embeds.
			c.On(client.TypeNewMessage, func(raw json.RawMessage) {
				var msg struct {
					Message string `json:"message"`
				}
				if err := json.Unmarshal(raw, &msg); err != nil {
					return
				}
				if d, ok := parseEmbeddedTimestamp(msg.Message); ok {
					collector.AddMsgLatency(d)
				}
			})

			c.On(client.TypeError, func(json.RawMessage) {
				collector.AddError()
			})

			if err := c.JoinLive(liveID); err != nil {
				collector.AddError()
				c.Close()
				return
			}

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}()
	}
	wg.Wait()

	fmt.Printf("Connected and joined: %d/%d users (%d errors)\n",
		collector.ConnectionCount(), *users, collector.ErrorCount())

	if collector.ConnectionCount() == 0 {
		fmt.Println("No users connected; aborting.")
		collector.Report()
		return
	}

	// -----------------------------------------------------------------------
	// Chat phase
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Chat phase ---")

	chatCtx, chatCancel := context.WithTimeout(ctx, *duration)
	defer chatCancel()

	mu.Lock()
	active := make([]*client.Client, len(clients))
	copy(active, clients)
	mu.Unlock()

	var chatWg sync.WaitGroup
	for i, c := range active {
		i, c := i, c
		chatWg.Add(1)

		go func() {
			defer chatWg.Done()

			liveID := liveIDs[i%len(liveIDs)]
			interval := time.Duration(float64(time.Second) / *rate)

			// Jitter the start so the senders don't fire in lockstep.
			select {
			case <-chatCtx.Done():
				return
			case <-time.After(time.Duration(rand.Int63n(int64(interval)))):
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			seq := 0
			for {
				select {
				case <-chatCtx.Done():
					return
				case <-ticker.C:
					seq++
					// Keep the filler clean: substring matching means even
					// "hello" would trip the word filter (it contains "hell").
					text := fmt.Sprintf("lt %d %d greetings from the load test", time.Now().UnixNano(), seq)
					if err := c.SendMessage(liveID, text); err != nil {
						collector.AddError()
						return
					}
				}
			}
		}()
	}

	// Progress reporting during the chat phase.
	progressTicker := time.NewTicker(10 * time.Second)
	go func() {
		for {
			select {
			case <-chatCtx.Done():
				return
			case <-progressTicker.C:
				fmt.Printf("  [chat] errors: %d\n", collector.ErrorCount())
			}
		}
	}()

	chatWg.Wait()
	progressTicker.Stop()
	fmt.Println("\nChat phase complete.")

	// -----------------------------------------------------------------------
	// Cleanup
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	for i, c := range clients {
		_ = c.LeaveLive(liveIDs[i%len(liveIDs)])
		c.Close()
	}
	mu.Unlock()
	fmt.Println("All connections closed.")

	collector.Report()
}

// parseEmbeddedTimestamp extracts the send time from messages of the form
// "lt <unixnano> <seq> ..." and returns the elapsed delivery latency.
func parseEmbeddedTimestamp(text string) (time.Duration, bool) {
	if !strings.HasPrefix(text, "lt ") {
		return 0, false
	}
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return 0, false
	}
	ns, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Since(time.Unix(0, ns)), true
}
