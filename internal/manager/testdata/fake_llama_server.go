package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Messages []message `json:"messages"`
	Prompt   string    `json:"prompt"`
}

func main() {
	var model, host, port string
	var ctxSize, batch, ngl, threads, keep int
	var mlock, ctxShift bool
	var ropeScale, ropeBase float64
	var tmpl string
	// Accept the llama-server flags used by the adapter
	flag.StringVar(&model, "m", "", "model path")
	flag.StringVar(&host, "host", "127.0.0.1", "host")
	flag.StringVar(&port, "port", "0", "port")
	flag.IntVar(&ctxSize, "c", 2048, "context size")
	flag.IntVar(&batch, "b", 512, "batch size")
	flag.IntVar(&ngl, "ngl", 0, "gpu layers")
	flag.IntVar(&threads, "t", 0, "threads")
	flag.IntVar(&keep, "keep", 0, "tokens to keep")
	flag.BoolVar(&mlock, "mlock", false, "mlock")
	flag.BoolVar(&ctxShift, "context-shift", false, "context shift")
	flag.Float64Var(&ropeScale, "rope-freq-scale", 1, "rope scale")
	flag.Float64Var(&ropeBase, "rope-freq-base", 10000, "rope base")
	flag.StringVar(&tmpl, "chat-template", "", "chat template")
	flag.Parse()

	layers := ngl
	if layers > 32 {
		layers = 32
	}
	fmt.Fprintf(os.Stderr, "load_tensors: offloaded %d/32 layers to GPU\n", layers)

	tokenDelay := 20 * time.Millisecond
	if v := os.Getenv("FAKE_LLAMA_TOKEN_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			tokenDelay = d
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"test","object":"model"}]}`))
	})
	stream := func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		last := req.Prompt
		if n := len(req.Messages); n > 0 {
			last = req.Messages[n-1].Content
		}
		if strings.Contains(last, "overflow") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":400,"message":"the request exceeds the available context size, try increasing it","type":"exceed_context_size_error"}}`))
			return
		}
		tokens := []string{"Hello", ",", " world"}
		if strings.Contains(last, "long") {
			tokens = nil
			for i := 0; i < 200; i++ {
				tokens = append(tokens, " tok")
			}
		}
		finish := "stop"
		if strings.Contains(last, "fill") {
			finish = "length"
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl, _ := w.(http.Flusher)
		for _, t := range tokens {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(tokenDelay):
			}
			b, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"delta": map[string]string{"content": t}, "text": t}}})
			fmt.Fprintf(w, "data: %s\n\n", b)
			if fl != nil {
				fl.Flush()
			}
		}
		b, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"delta": map[string]string{}, "finish_reason": finish}},
			"usage":   map[string]int{"prompt_tokens": 5, "completion_tokens": len(tokens), "total_tokens": 5 + len(tokens)},
		})
		fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n\n", b)
	}
	mux.HandleFunc("/v1/chat/completions", stream)
	mux.HandleFunc("/v1/completions", stream)

	srv := &http.Server{Addr: host + ":" + port, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Wait for SIGTERM then shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
