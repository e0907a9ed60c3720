package detector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/fuchsia74/modelcheck/common/client"
	"github.com/fuchsia74/modelcheck/common/config"
	"github.com/fuchsia74/modelcheck/common/helper"
	"github.com/fuchsia74/modelcheck/model"
	"github.com/fuchsia74/modelcheck/relay/endpoint"
)

// probe responses are small; cap reads so a misbehaving upstream cannot
// balloon memory.
const maxProbeBodySize = 1 << 20

// Input identifies one probe: a (channel, model, endpoint) triple plus
// everything needed to reach the upstream.
type Input struct {
	ChannelId   int           `json:"channelId"`
	ChannelName string        `json:"channelName"`
	BaseURL     string        `json:"baseUrl"`
	Key         string        `json:"apiKey"`
	Proxy       string        `json:"proxy,omitempty"`
	ModelId     int           `json:"modelId"`
	ModelName   string        `json:"modelName"`
	Endpoint    endpoint.Type `json:"endpointType"`
}

// Result is the classified outcome of a single probe.
type Result struct {
	Status          string `json:"status"`
	LatencyMs       int64  `json:"latency_ms"`
	UpstreamStatus  int    `json:"upstream_status"`
	ErrorMessage    string `json:"error_message,omitempty"`
	ResponsePreview string `json:"response_preview,omitempty"`
}

func fail(latency int64, upstreamStatus int, message string) Result {
	return Result{
		Status:         model.ProbeStatusFail,
		LatencyMs:      latency,
		UpstreamStatus: upstreamStatus,
		ErrorMessage:   message,
	}
}

// Probe executes one detection request. Transport failures are
// classified into short diagnostics; body-level error envelopes
// downgrade an HTTP 200 to FAIL. Latency covers send through full body
// read.
func Probe(ctx context.Context, in Input) Result {
	body, err := in.Endpoint.ProbeBody(in.ModelName, config.DetectPrompt, config.DetectMaxTokens)
	if err != nil {
		return fail(0, 0, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, in.Endpoint.URL(in.BaseURL, in.ModelName), bytes.NewReader(body))
	if err != nil {
		return fail(0, 0, errors.Wrap(err, "build probe request").Error())
	}
	for k, v := range in.Endpoint.Headers(in.Key) {
		req.Header.Set(k, v)
	}

	httpClient, err := client.ForProxy(in.Proxy, true)
	if err != nil {
		return fail(0, 0, err.Error())
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		kind, diag := client.Classify(err)
		return fail(helper.CalcElapsedTime(start), 0, fmt.Sprintf("%s: %s", kind, diag))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBodySize))
	latency := helper.CalcElapsedTime(start)
	if err != nil {
		kind, diag := client.Classify(err)
		return fail(latency, resp.StatusCode, fmt.Sprintf("%s: %s", kind, diag))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := endpoint.StripThink(string(respBody))
		if matched, msg := endpoint.DetectBodyError(respBody); matched && msg != "" {
			message = msg
		}
		return fail(latency, resp.StatusCode, fmt.Sprintf("upstream status %d: %s", resp.StatusCode, helper.Truncate(message, 200)))
	}

	if matched, msg := endpoint.DetectBodyError(respBody); matched {
		if msg == "" {
			msg = "upstream reported failure"
		}
		return fail(latency, resp.StatusCode, msg)
	}

	if in.Endpoint == endpoint.TypeImage && !endpoint.ImageSucceeded(respBody) {
		return fail(latency, resp.StatusCode, "image response missing data[0].url or b64_json")
	}

	return Result{
		Status:          model.ProbeStatusSuccess,
		LatencyMs:       latency,
		UpstreamStatus:  resp.StatusCode,
		ResponsePreview: endpoint.ExtractContent(in.Endpoint, respBody),
	}
}

// FetchModelList enumerates the channel's models via the OpenAI-style
// /v1/models endpoint.
func FetchModelList(ctx context.Context, baseURL string, key string, proxy string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.ModelListURL(baseURL), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build model list request")
	}
	req.Header.Set("Authorization", "Bearer "+key)

	httpClient, err := client.ForProxy(proxy, true)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch model list")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read model list")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("model list returned status %d: %s", resp.StatusCode, helper.Truncate(string(body), 200))
	}
	return endpoint.ParseModelList(body), nil
}
