// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api serves the optional local debug surface: bridge status as
// JSON and a WebSocket tap of mirrored transcript events. It binds only
// when a debug address is configured and is meant for loopback use.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/wingedpig/ccbot/internal/hub"
	"github.com/wingedpig/ccbot/internal/monitor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Status is the debug status payload.
type Status struct {
	BoundWindows []string  `json:"bound_windows"`
	Uptime       string    `json:"uptime"`
	StartedAt    time.Time `json:"started_at"`
}

// Server is the debug HTTP server.
type Server struct {
	addr      string
	hub       *hub.Hub
	startedAt time.Time

	mu      sync.Mutex
	nextID  int
	tapConns map[int]chan monitor.NewMessage
}

// NewServer creates a debug server for the given listen address.
func NewServer(addr string, h *hub.Hub) *Server {
	return &Server{
		addr:      addr,
		hub:       h,
		startedAt: time.Now(),
		tapConns:  make(map[int]chan monitor.NewMessage),
	}
}

// Publish fans one mirrored event out to connected taps. Slow consumers
// drop events rather than stalling the monitor.
func (s *Server) Publish(msg monitor.NewMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.tapConns {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	r := mux.NewRouter()
	r.Use(recovery, logging)
	r.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/events", s.handleEvents)

	srv := &http.Server{Addr: s.addr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Printf("[api] debug server on %s", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{
		BoundWindows: s.hub.BoundWindows(),
		Uptime:       time.Since(s.startedAt).Round(time.Second).String(),
		StartedAt:    s.startedAt,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleEvents streams mirrored transcript events over a WebSocket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan monitor.NewMessage, 64)
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.tapConns[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.tapConns, id)
		s.mu.Unlock()
	}()

	// Drain client frames so pings and closes are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg := <-ch:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// recovery recovers from handler panics.
func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("panic recovered: %v\n%s", err, debug.Stack())
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// logging logs requests.
func logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[api] %s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
