package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"ai-chat-pipeline/internal/infra/client"
	"ai-chat-pipeline/internal/usecase"
)

// Drives a running pipeline through the edge client: mint a session token,
// stream one completion, then read the job back through the status endpoint.
func main() {
	baseURL := flag.String("url", "http://localhost:8080", "pipeline base URL")
	token := flag.String("token", "", "shared fallback token")
	sessionID := flag.String("session", "demo-session", "chat session id")
	message := flag.String("message", "hello", "message to submit")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	g := client.NewGateway(client.Config{
		BaseURL:       *baseURL,
		FallbackToken: *token,
	}, &logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if *token != "" {
		if _, err := g.MintToken(ctx, *sessionID); err != nil {
			log.Fatalf("mint token: %v", err)
		}
	}

	var done client.DoneEvent
	err := g.Submit(ctx, client.SubmitParams{SessionID: *sessionID, Message: *message}, client.StreamCallbacks{
		OnChunk: func(c string) { fmt.Print(c) },
		OnDone: func(d client.DoneEvent) {
			done = d
			fmt.Println()
		},
		OnError: func(msg string) { log.Printf("stream error: %s", msg) },
	})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	log.Printf("job %s done: %d tokens via %s", done.JobID, done.TokensUsed, done.Model)

	var view usecase.JobStatusView
	if err := g.JobStatus(ctx, done.JobID, &view); err != nil {
		log.Fatalf("status: %v", err)
	}
	log.Printf("status=%s progress=%d retries=%d", view.Status, view.Progress, view.RetryCount)

	var session usecase.SessionJobsView
	if err := g.SessionJobs(ctx, *sessionID, 10, &session); err != nil {
		log.Fatalf("session jobs: %v", err)
	}
	log.Printf("session %s: %d jobs, %d tokens total", *sessionID, session.Stats.Total, session.Stats.TokensUsed)
}
