package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"presence-service/internal/client"
	"presence-service/internal/models"
)

func main() {
	wsURL := flag.String("ws", getEnv("CHAT_WS_URL", "ws://localhost:3001/ws"), "websocket endpoint")
	apiURL := flag.String("api", getEnv("CHAT_API_URL", "http://localhost:3001"), "REST base url")
	userID := flag.String("user", os.Getenv("CHAT_USER"), "user id to connect as")
	token := flag.String("token", os.Getenv("CHAT_TOKEN"), "JWT, when the server requires one")
	peer := flag.String("peer", "", "user id to talk to")
	flag.Parse()

	if *userID == "" || *peer == "" {
		log.Fatal("both -user and -peer are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := client.Dial(dialCtx, *wsURL, *userID, *token)
	cancel()
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer conn.Close()

	s := &session{
		conn:   conn,
		apiURL: *apiURL,
		token:  *token,
		peer:   *peer,
		convs:  map[string]*client.Conversation{},
	}
	s.typing = client.NewTypingTracker(client.DefaultTypingTimeout, func(p string) {
		fmt.Printf("* %s stopped typing\n", p)
	})
	s.loadHistory(ctx)

	go s.readInput(ctx, stop)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.Events():
			if !ok {
				log.Println("connection closed")
				return
			}
			if !s.handleEvent(ev) {
				return
			}
		}
	}
}

type session struct {
	conn   *client.Conn
	apiURL string
	token  string
	typing *client.TypingTracker

	mu    sync.Mutex
	peer  string
	convs map[string]*client.Conversation
}

func (s *session) conversation(peer string) *client.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[peer]
	if !ok {
		conv = client.NewConversation(s.conn.UserID(), peer)
		s.convs[peer] = conv
	}
	return conv
}

func (s *session) markFailed(clientMessageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.convs {
		if conv.MarkFailed(clientMessageID) {
			return
		}
	}
}

func (s *session) currentPeer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

func (s *session) loadHistory(ctx context.Context) {
	peer := s.currentPeer()
	history, err := client.FetchHistory(ctx, nil, s.apiURL, s.conn.UserID(), s.token, peer)
	if err != nil {
		log.Printf("history unavailable peer=%s: %v", peer, err)
		return
	}
	conv := s.conversation(peer)
	conv.Load(history)
	for _, e := range conv.Messages() {
		printEntry(e)
	}
}

func (s *session) readInput(ctx context.Context, quit context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		peer := s.currentPeer()
		var err error
		switch {
		case line == "":
			continue
		case line == "/quit":
			quit()
			return
		case line == "/typing":
			err = s.conn.TypingStart(peer)
		case line == "/stop":
			err = s.conn.TypingStop(peer)
		case line == "/history":
			s.loadHistory(ctx)
		case strings.HasPrefix(line, "/peer "):
			s.mu.Lock()
			s.peer = strings.TrimSpace(strings.TrimPrefix(line, "/peer "))
			s.mu.Unlock()
			s.loadHistory(ctx)
		default:
			id := client.NewClientMessageID()
			s.conversation(peer).AddOptimistic(id, line)
			if err = s.conn.SendMessage(peer, line, id); err != nil {
				s.conversation(peer).MarkFailed(id)
			}
		}
		if err != nil {
			log.Printf("send failed: %v", err)
		}
	}
	quit()
}

// handleEvent reports false when the session must end.
func (s *session) handleEvent(ev models.Event) bool {
	switch ev.Event {
	case models.EventReceiveMessage:
		var msg models.Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			return true
		}
		s.typing.Stop(msg.From)
		if s.conversation(msg.From).Apply(msg) {
			printEntry(client.Entry{Message: msg, State: client.EntryConfirmed})
		}
	case models.EventUserTypingStart, models.EventUserTypingStop:
		var sig models.TypingPayload
		if err := json.Unmarshal(ev.Data, &sig); err != nil {
			return true
		}
		if ev.Event == models.EventUserTypingStart {
			if !s.typing.IsTyping(sig.From) {
				fmt.Printf("* %s is typing...\n", sig.From)
			}
			s.typing.Start(sig.From)
		} else {
			s.typing.Stop(sig.From)
		}
	case models.EventMessageError:
		var payload models.ErrorPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return true
		}
		if payload.ClientMessageID != "" {
			s.markFailed(payload.ClientMessageID)
		}
		fmt.Printf("! %s rejected: %s (%s)\n", payload.Event, payload.Reason, payload.Message)
	case models.EventSessionReplaced:
		fmt.Println("! signed in elsewhere, closing")
		return false
	}
	return true
}

func printEntry(e client.Entry) {
	ts := e.Message.Timestamp.Local().Format("15:04:05")
	suffix := ""
	if e.State == client.EntryFailed {
		suffix = " (failed)"
	}
	fmt.Printf("[%s] %s: %s%s\n", ts, e.Message.From, e.Message.Content, suffix)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
