// Command wsprobe connects to the event socket, joins presence and prints
// every event it receives. With -to it also sends direct messages, and with
// -clients it opens several sockets for a quick load check.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type probeStats struct {
	connected atomic.Int64
	failed    atomic.Int64
	sent      atomic.Int64
	received  atomic.Int64
}

type event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func main() {
	host := flag.String("host", "localhost:8375", "API server host")
	token := flag.String("token", os.Getenv("BETEL_TOKEN"), "Bearer token (see seed -tokens)")
	to := flag.Uint("to", 0, "Receiver user id for direct messages")
	text := flag.String("text", "hello from wsprobe", "Message content")
	count := flag.Int("count", 1, "Messages to send per client when -to is set")
	interval := flag.Duration("interval", time.Second, "Delay between messages")
	clients := flag.Int("clients", 1, "Number of concurrent sockets")
	duration := flag.Duration("duration", 15*time.Second, "How long to stay connected")
	flag.Parse()

	if *token == "" {
		log.Fatal("a token is required: pass -token or set BETEL_TOKEN")
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var stats probeStats
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runClient(*host, *token, id, uint(*to), *text, *count, *interval, *clients == 1, stop, &stats)
		}(i)
		// tickets are issued one request at a time
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-time.After(*duration):
	case <-interrupt:
		log.Println("interrupted")
	}
	close(stop)
	wg.Wait()

	log.Printf("connected=%d failed=%d sent=%d received=%d",
		stats.connected.Load(), stats.failed.Load(), stats.sent.Load(), stats.received.Load())
}

func getTicket(host, token string) (string, error) {
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/api/ws/ticket", host), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ticket issuance failed with status %d", resp.StatusCode)
	}
	var result struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Ticket, nil
}

func runClient(host, token string, id int, to uint, text string, count int, interval time.Duration, verbose bool, stop <-chan struct{}, stats *probeStats) {
	ticket, err := getTicket(host, token)
	if err != nil {
		stats.failed.Add(1)
		log.Printf("client %d: %v", id, err)
		return
	}

	u := url.URL{Scheme: "ws", Host: host, Path: "/api/ws", RawQuery: "ticket=" + ticket}
	c, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		stats.failed.Add(1)
		log.Printf("client %d: dial: %v", id, err)
		return
	}
	defer func() { _ = c.Close() }()
	stats.connected.Add(1)

	var writeMu sync.Mutex
	write := func(typ string, payload any) error {
		b, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return c.WriteMessage(websocket.TextMessage, b)
	}

	go func() {
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			stats.received.Add(1)
			if verbose {
				var ev event
				if json.Unmarshal(data, &ev) == nil {
					fmt.Printf("%s %-20s %s\n", time.Now().Format("15:04:05.000"), ev.Type, ev.Payload)
				}
			}
		}
	}()

	if err := write("join", nil); err != nil {
		log.Printf("client %d: join: %v", id, err)
		return
	}

	sent := 0
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			writeMu.Lock()
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			writeMu.Unlock()
			return
		case <-ticker.C:
			if to == 0 || sent >= count {
				continue
			}
			_ = write("typing", map[string]any{"receiver_id": to})
			if err := write("send_message", map[string]any{"receiver_id": to, "content": text}); err != nil {
				log.Printf("client %d: send: %v", id, err)
				return
			}
			_ = write("stop_typing", map[string]any{"receiver_id": to})
			sent++
			stats.sent.Add(1)
		}
	}
}
