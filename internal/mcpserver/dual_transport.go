package mcpserver

import (
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DualTransportHandler serves Streamable HTTP and legacy SSE clients on one path.
type DualTransportHandler struct {
	streamable http.Handler
	sse        http.Handler
}

// NewDualTransportHandler creates both transports over the same server.
func NewDualTransportHandler(getServer func(*http.Request) *mcp.Server) *DualTransportHandler {
	return &DualTransportHandler{
		streamable: mcp.NewStreamableHTTPHandler(getServer, nil),
		sse:        mcp.NewSSEHandler(getServer, nil),
	}
}

// ServeHTTP sends SSE session traffic to the SSE handler and everything else to Streamable HTTP.
func (h *DualTransportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isSSERequest(r) {
		h.sse.ServeHTTP(w, r)
		return
	}
	h.streamable.ServeHTTP(w, r)
}

func isSSERequest(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost:
		return r.URL.Query().Has("sessionid")
	case http.MethodGet:
		// Streamable HTTP clients resume with Mcp-Session-Id; a fresh GET stream is SSE.
		if r.Header.Get("Mcp-Session-Id") != "" {
			return false
		}
		for _, accept := range strings.Split(strings.Join(r.Header.Values("Accept"), ","), ",") {
			if strings.HasPrefix(strings.TrimSpace(accept), "text/event-stream") {
				return true
			}
		}
	}
	return false
}
