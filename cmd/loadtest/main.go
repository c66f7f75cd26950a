package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	baseURL  = flag.String("base", "http://localhost:8080", "server base URL")
	pairs    = flag.Int("pairs", 50, "talent/promoter pairs")
	msgCount = flag.Int("msgs", 20, "messages each talent sends")
	password = "password123"
)

type loginResponse struct {
	Token string `json:"access_token"`
	ID    string `json:"id"`
}

type frame struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

var (
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	okPairs    atomic.Int64
	failedPair atomic.Int64
)

func main() {
	flag.Parse()
	log.Info().Int("users", *pairs*2).Int("msgs", *msgCount).Msg("starting load test")
	start := time.Now()

	var wg sync.WaitGroup
	run := time.Now().UnixNano()
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(fmt.Sprintf("%d_%d", run, pairID)); err != nil {
				failedPair.Add(1)
				log.Error().Err(err).Int("pair", pairID).Msg("pair failed")
				return
			}
			okPairs.Add(1)
		}(i)
	}

	wg.Wait()
	log.Info().
		Int64("ok", okPairs.Load()).
		Int64("failed", failedPair.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("load test complete")
}

// runPair has a talent message a promoter while the promoter watches its
// badge over the websocket, then reads the conversation.
func runPair(tag string) error {
	talent, err := authenticate("talent_"+tag+"@loadtest.local", "talent")
	if err != nil {
		return err
	}
	promoter, err := authenticate("promoter_"+tag+"@loadtest.local", "promoter")
	if err != nil {
		return err
	}

	var opened struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := call(talent.Token, http.MethodPost, "/api/conversations/private",
		map[string]string{"talent_id": talent.ID, "promoter_id": promoter.ID}, &opened); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(promoter.Token, "/dashboard"), nil)
	if err != nil {
		return fmt.Errorf("ws connect: %w", err)
	}
	defer conn.Close()

	badges := make(chan int, 256)
	go func() {
		defer close(badges)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type == "badge" {
				badges <- f.Count
			}
		}
	}()

	path := "/api/conversations/" + opened.ConversationID
	for i := 0; i < *msgCount; i++ {
		msg := map[string]string{"text": fmt.Sprintf("LoadTest Msg %d from %s", i, tag)}
		if err := call(talent.Token, http.MethodPost, path+"/messages", msg, nil); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := awaitBadge(badges, *msgCount); err != nil {
		return err
	}
	if err := call(promoter.Token, http.MethodPost, path+"/read", nil, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return awaitBadge(badges, 0)
}

func awaitBadge(badges <-chan int, want int) error {
	timeout := time.After(10 * time.Second)
	last := -1
	for {
		select {
		case n, ok := <-badges:
			if !ok {
				return fmt.Errorf("socket closed waiting for badge %d (last %d)", want, last)
			}
			if n == want {
				return nil
			}
			last = n
		case <-timeout:
			return fmt.Errorf("badge never reached %d (last %d)", want, last)
		}
	}
}

// authenticate registers (the account may already exist) and logs in.
func authenticate(email, role string) (*loginResponse, error) {
	_ = call("", http.MethodPost, "/register", map[string]string{
		"email": email, "password": password, "full_name": strings.Split(email, "@")[0], "role": role,
	}, nil)

	var res loginResponse
	if err := call("", http.MethodPost, "/login", map[string]string{"email": email, "password": password}, &res); err != nil {
		return nil, fmt.Errorf("login %s: %w", email, err)
	}
	return &res, nil
}

func call(token, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, *baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func wsURL(token, route string) string {
	u := strings.Replace(*baseURL, "http", "ws", 1) + "/ws"
	return u + "?token=" + url.QueryEscape(token) + "&route=" + url.QueryEscape(route)
}
