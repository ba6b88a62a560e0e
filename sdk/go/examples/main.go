package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"StoryAI/sdk/go/story"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(story.Health{Status: "healthy"})
	})
	mux.HandleFunc("/api/therapy/session", func(w http.ResponseWriter, r *http.Request) {
		var req story.TherapyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"message": "I'm here to listen and support you. How are you feeling today?"},
			"message": "Therapy session started",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := story.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("server status: %s\n", health.Status)

	resp, err := client.TherapySession(ctx, story.TherapyRequest{UserID: "demo", Action: story.ActionStartSession})
	if err != nil {
		panic(err)
	}
	var data struct {
		Message string `json:"message"`
	}
	if err := resp.Decode(&data); err != nil {
		panic(err)
	}
	fmt.Printf("%s: %s\n", resp.Message, data.Message)
}
