package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/fuchsia74/modelcheck/common"
	"github.com/fuchsia74/modelcheck/common/client"
	"github.com/fuchsia74/modelcheck/common/helper"
	"github.com/fuchsia74/modelcheck/middleware"
	"github.com/fuchsia74/modelcheck/monitor"
	"github.com/fuchsia74/modelcheck/relay"
	"github.com/fuchsia74/modelcheck/relay/endpoint"
)

// ListModels answers the OpenAI-style model enumeration, restricted to
// detected models the key may use.
func ListModels(c *gin.Context) {
	key := middleware.GetProxyKey(c)
	models, err := relay.ListModels(key)
	if err != nil {
		middleware.AbortWithRelayError(c, http.StatusInternalServerError, err.Error(), "proxy_error")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   models,
	})
}

// RelayChat forwards POST /v1/chat/completions.
func RelayChat(c *gin.Context) {
	relayOpenAIStyle(c, endpoint.TypeChat)
}

// RelayClaude forwards POST /v1/messages.
func RelayClaude(c *gin.Context) {
	relayOpenAIStyle(c, endpoint.TypeClaude)
}

// RelayCodex forwards POST /v1/responses.
func RelayCodex(c *gin.Context) {
	relayOpenAIStyle(c, endpoint.TypeCodex)
}

// relayOpenAIStyle handles the three protocols that carry the model
// name in the JSON body.
func relayOpenAIStyle(c *gin.Context, t endpoint.Type) {
	body, err := common.GetRequestBody(c)
	if err != nil {
		middleware.AbortWithRelayError(c, http.StatusBadRequest, "failed to read request body", "invalid_request_error")
		return
	}
	requestedModel := gjson.GetBytes(body, "model").String()
	if requestedModel == "" {
		middleware.AbortWithRelayError(c, http.StatusBadRequest, "missing required field: model", "invalid_request_error")
		return
	}

	route, err := relay.Resolve(requestedModel, middleware.GetProxyKey(c))
	if err != nil {
		middleware.AbortWithRelayError(c, http.StatusInternalServerError, err.Error(), "proxy_error")
		return
	}
	if route == nil {
		middleware.AbortWithRelayError(c, http.StatusNotFound,
			"model "+requestedModel+" not found", "model_not_found")
		return
	}

	outBody, err := rewriteModelField(body, route.ActualModelName)
	if err != nil {
		middleware.AbortWithRelayError(c, http.StatusBadRequest, "request body is not valid JSON", "invalid_request_error")
		return
	}

	isStream := gjson.GetBytes(body, "stream").Bool()
	upstreamURL := t.URL(route.BaseURL, route.ActualModelName)
	forward(c, t, route, upstreamURL, outBody, isStream)
}

// RelayGemini forwards the /v1beta/models/<model>:generateContent and
// :streamGenerateContent surface; the model rides the URL path.
func RelayGemini(c *gin.Context) {
	modelSpec, isStream, ok := endpoint.GeminiPath(c.Request.URL.Path)
	if !ok {
		middleware.AbortWithRelayError(c, http.StatusNotFound, "unknown gemini operation", "invalid_request_error")
		return
	}

	body, err := common.GetRequestBody(c)
	if err != nil {
		middleware.AbortWithRelayError(c, http.StatusBadRequest, "failed to read request body", "invalid_request_error")
		return
	}

	route, err := relay.Resolve(modelSpec, middleware.GetProxyKey(c))
	if err != nil {
		middleware.AbortWithRelayError(c, http.StatusInternalServerError, err.Error(), "proxy_error")
		return
	}
	if route == nil {
		middleware.AbortWithRelayError(c, http.StatusNotFound,
			"model "+modelSpec+" not found", "model_not_found")
		return
	}

	op := "generateContent"
	if isStream {
		op = "streamGenerateContent"
	}
	upstreamURL := endpoint.NormalizeBaseURL(route.BaseURL) + "/v1beta/models/" + route.ActualModelName + ":" + op
	if raw := c.Request.URL.RawQuery; raw != "" {
		upstreamURL += "?" + raw
	}
	forward(c, endpoint.TypeGemini, route, upstreamURL, body, isStream)
}

// rewriteModelField swaps the gateway model spec for the channel's
// actual model name without disturbing the rest of the body.
func rewriteModelField(body []byte, actual string) ([]byte, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	nameBuf, err := json.Marshal(actual)
	if err != nil {
		return nil, err
	}
	payload["model"] = nameBuf
	return json.Marshal(payload)
}

// forward ships the rewritten request upstream and relays the response
// with transport semantics intact. The upstream call inherits the
// client's request context, so a client disconnect cancels it.
func forward(c *gin.Context, t endpoint.Type, route *relay.Route, upstreamURL string, body []byte, isStream bool) {
	lg := gmw.GetLogger(c)

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, upstreamURL, bytes.NewReader(body))
	if err != nil {
		middleware.AbortWithRelayError(c, http.StatusInternalServerError, err.Error(), "proxy_error")
		return
	}
	for k, v := range t.Headers(route.UpstreamKey) {
		req.Header.Set(k, v)
	}
	// Claude clients pin protocol versions; pass them through untouched.
	for _, h := range []string{"anthropic-version", "anthropic-beta"} {
		if v := c.GetHeader(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	if isStream && c.GetHeader("Accept") != "" {
		req.Header.Set("Accept", c.GetHeader("Accept"))
	}

	httpClient, err := client.ForProxy(route.ChannelProxy, false)
	if err != nil {
		middleware.AbortWithRelayError(c, http.StatusInternalServerError, err.Error(), "proxy_error")
		return
	}

	lg.Info("forwarding request to upstream channel",
		zap.String("url", upstreamURL),
		zap.Int("channel_id", route.ChannelId),
		zap.String("model", route.ActualModelName),
		zap.Bool("stream", isStream))

	resp, err := httpClient.Do(req)
	if err != nil {
		if c.Request.Context().Err() != nil {
			// client went away; nothing to answer
			lg.Debug("client disconnected during upstream call")
			c.Abort()
			return
		}
		kind, diag := client.Classify(err)
		monitor.ObserveRelay(string(t), http.StatusBadGateway)
		middleware.AbortWithRelayError(c, http.StatusBadGateway,
			string(kind)+": "+diag, "proxy_error")
		return
	}
	defer resp.Body.Close()

	monitor.ObserveRelay(string(t), resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		relayUpstreamError(c, resp)
		return
	}

	if isStream {
		streamPassthrough(c, resp)
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		middleware.AbortWithRelayError(c, http.StatusBadGateway, "failed to read upstream response", "proxy_error")
		return
	}
	if !gjson.ValidBytes(respBody) {
		middleware.AbortWithRelayError(c, http.StatusBadGateway, "upstream returned invalid JSON", "proxy_error")
		return
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, respBody)
}

// relayUpstreamError surfaces a non-2xx upstream answer as the
// gateway's proxy_error envelope, preserving the upstream status.
func relayUpstreamError(c *gin.Context, resp *http.Response) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	message := strings.TrimSpace(string(body))
	if matched, msg := endpoint.DetectBodyError(body); matched && msg != "" {
		message = msg
	}
	if message == "" {
		message = resp.Status
	}
	c.JSON(resp.StatusCode, gin.H{
		"error": gin.H{
			"message": helper.Truncate(message, 1000),
			"type":    "proxy_error",
		},
	})
	c.Abort()
}

// streamPassthrough relays the upstream body byte-for-byte: no line
// buffering, no aggregation, flush after every read.
func streamPassthrough(c *gin.Context, resp *http.Response) {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		c.Header("Content-Type", ct)
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	for _, te := range resp.TransferEncoding {
		if te == "chunked" {
			c.Header("Transfer-Encoding", "chunked")
		}
	}
	c.Status(resp.StatusCode)

	flusher, _ := c.Writer.(http.Flusher)
	buf := make([]byte, 32<<10)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF && c.Request.Context().Err() == nil &&
				!isContextCancel(err) {
				gmw.GetLogger(c).Warn("upstream stream ended abnormally", zap.Error(err))
			}
			return
		}
	}
}

func isContextCancel(err error) bool {
	return err == context.Canceled || strings.Contains(err.Error(), "context canceled")
}
