package utils

import (
	"fmt"
	"net/http"
)

// WriteSSE 写入一个 Server-Sent Events 事件并立即刷新。event 为空时只写 data。
func WriteSSE(w http.ResponseWriter, flusher http.Flusher, event string, data []byte) error {
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return fmt.Errorf("write sse event: %w", err)
		}
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("write sse prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write sse payload: %w", err)
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("write sse terminator: %w", err)
	}
	flusher.Flush()
	return nil
}

// WriteSSEComment 写入一条 SSE 注释行（如心跳），EventSource 不会把它派发给监听器。
func WriteSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return fmt.Errorf("write sse comment: %w", err)
	}
	flusher.Flush()
	return nil
}

// SetupSSEHeaders 设置Server-Sent Events响应头
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
