package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

func startEventStream(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

// writeEvent sends one pre-encoded JSON payload as an SSE data frame.
func writeEvent(c *gin.Context, payload []byte) error {
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// streamEvent is the envelope of every monitor frame.
type streamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func writeTyped(c *gin.Context, typ string, data any) error {
	payload, err := json.Marshal(streamEvent{Type: typ, Data: data})
	if err != nil {
		return err
	}
	return writeEvent(c, payload)
}
