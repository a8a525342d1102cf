package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/trafficgw/internal/gateway"
	"github.com/vyrodovalexey/trafficgw/internal/observability"
)

// proxy serves every request that is not an admin or metrics route.
func (s *Server) proxy(c *gin.Context) {
	req, err := gateway.NewRequestFromHTTP(c.Request, s.gw.MaxBodyBytes())
	if err != nil {
		writeError(c, err)
		return
	}

	resp, err := s.gw.Handle(c.Request.Context(), req)
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			s.logger.WithContext(c.Request.Context()).Error("request failed",
				observability.String("path", req.Path),
				observability.Error(err),
			)
		}
		writeError(c, err)
		return
	}

	header := c.Writer.Header()
	for name, values := range resp.Headers {
		if name == "Content-Length" {
			continue
		}
		header[name] = values
	}
	header.Set(gateway.HeaderBackendID, resp.BackendID)
	if len(resp.Body) > 0 {
		header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}

	c.Status(resp.StatusCode)
	if c.Request.Method == http.MethodHead || len(resp.Body) == 0 {
		return
	}
	if _, err := c.Writer.Write(resp.Body); err != nil {
		s.logger.WithContext(c.Request.Context()).Debug("failed to write response",
			observability.Error(err),
		)
	}
}
