package http

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/goccy/go-json"

	"github.com/KamdynS/chatwithme/auth"
	"github.com/KamdynS/chatwithme/chat"
	"github.com/KamdynS/chatwithme/llm"
	"github.com/KamdynS/chatwithme/memory/inmemory"
)

func ExampleServer_chat() {
	router, _ := llm.NewRouter(llm.RouterConfig{Logger: quietLogger()})
	svc, _ := chat.NewService(chat.Config{Store: inmemory.NewStore(), Router: router, Logger: quietLogger()})
	resolver := auth.ResolverFunc(func(r *http.Request) (*auth.Session, bool) {
		return &auth.Session{UserID: "demo", Name: "Demo"}, true
	})
	s := NewServer(svc, router, resolver, Config{Logger: quietLogger()})

	reqBody, _ := json.Marshal(ChatRequest{Message: "hello"})
	req := httptest.NewRequest("POST", "/chat", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp ChatResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	fmt.Println(w.Code)
	fmt.Println(resp.ModelUsed, resp.Fallback)
	fmt.Println(resp.Messages[1].Content)
	// Output:
	// 200
	// fast true
	// Hello! How can I assist you today?
}
