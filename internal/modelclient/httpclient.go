package modelclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ktiyab/coheara/internal/errs"
)

// maxImageBytes is the fixed base64 size bound for images sent to the
// vision path (spec §4.A).
const maxImageBytes = 20 * 1024 * 1024

var modelNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-/]{0,127}$`)

// HTTPClient is the production Client binding: one HTTP client instance
// talking to a loopback-only local inference service, modeled after the
// teacher's OllamaClient (services/llm/ollama_llm.go) — a single
// http.Client with a connect-only timeout and NDJSON streaming for every
// long-running call. It emits no spans or metrics of its own.
type HTTPClient struct {
	httpClient     *http.Client
	baseURL      string
	recommendedModels []string
	fallbackAny    bool
	limiter      *rate.Limiter
}

// NewHTTPClient constructs a Client bound to baseURL. baseURL must resolve
// to a loopback address (localhost, 127.0.0.1, or ::1); any other host is
// rejected at construction, matching spec §4.A's connection-discipline
// rule.
func NewHTTPClient(baseURL string, recommendedModels []string, fallbackAny bool) (*HTTPClient, error) {
	if err := validateLoopback(baseURL); err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 15 * time.Second}
	transport := &http.Transport{DialContext: dialer.DialContext}
	return &HTTPClient{
		httpClient:     &http.Client{Transport: transport}, // no per-request timeout: inference may run for minutes
		baseURL:      strings.TrimRight(baseURL, "/"),
		recommendedModels: recommendedModels,
		fallbackAny:    fallbackAny,
		limiter:      rate.NewLimiter(rate.Limit(50), 50),
	}, nil
}

func validateLoopback(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "invalid base URL", err)
	}
	host := u.Hostname()
	if host != "localhost" && host != "127.0.0.1" && host != "::1" {
		return errs.New(errs.KindInvalidArgument, "model service base URL must be loopback only")
	}
	return nil
}

func validateModelName(name string) error {
	if !modelNameRe.MatchString(name) {
		return errs.New(errs.KindInvalidArgument, "invalid model name")
	}
	return nil
}

// --- management endpoints: per-call timeouts, no streaming ---------------

func (c *HTTPClient) withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}

// Health calls GET / with a 5s timeout (spec §4.A).
func (c *HTTPClient) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindNotReachable, "local model service unreachable", err)
	}
	defer resp.Body.Close()
	return nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
		Size int64 `json:"size"`
	} `json:"models"`
}

// ListModelsDetailed calls GET /api/tags with a 5s timeout.
func (c *HTTPClient) ListModelsDetailed(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := c.withTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotReachable, "local model service unreachable", err)
	}
	defer resp.Body.Close()
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, errs.Wrap(errs.KindMalformedResponse, "malformed /api/tags response", err)
	}
	out := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		out = append(out, ModelInfo{Name: m.Name, Size: m.Size})
	}
	return out, nil
}

type showRequest struct {
	Model string `json:"model"`
}

type showResponse struct {
	Template string `json:"template"`
	Details struct {
		Family string `json:"family"`
	} `json:"details"`
}

// ShowModel calls POST /api/show with a 5s timeout.
func (c *HTTPClient) ShowModel(ctx context.Context, name string) (ModelInfo, error) {
	if err := validateModelName(name); err != nil {
		return ModelInfo{}, err
	}
	ctx, cancel := c.withTimeout(ctx, 5*time.Second)
	defer cancel()

	body, _ := json.Marshal(showRequest{Model: name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return ModelInfo{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ModelInfo{}, errs.Wrap(errs.KindNotReachable, "local model service unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ModelInfo{}, errs.New(errs.KindModelNotFound, name)
	}
	var sr showResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return ModelInfo{}, errs.Wrap(errs.KindMalformedResponse, "malformed /api/show response", err)
	}
	cap := detectCapabilityFromTemplate(name, sr.Template)
	return ModelInfo{Name: name, Capability: cap}, nil
}

// DeleteModel calls DELETE /api/delete with a 30s timeout.
func (c *HTTPClient) DeleteModel(ctx context.Context, name string) error {
	if err := validateModelName(name); err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx, 30*time.Second)
	defer cancel()

	body, _ := json.Marshal(showRequest{Model: name})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindNotReachable, "local model service unreachable", err)
	}
	defer resp.Body.Close()
	return nil
}

// PullModel calls POST /api/pull with no timeout; progress lines stream
// back as NDJSON until a final {"status":"success"} with done=true.
func (c *HTTPClient) PullModel(ctx context.Context, name string, cb PullCallback) error {
	if err := validateModelName(name); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]any{"model": name, "stream": true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindNotReachable, "local model service unreachable", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk struct {
			Status  string `json:"status"`
			Completed int64 `json:"completed"`
			Total   int64 `json:"total"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		done := chunk.Status == "success"
		if cb != nil && !cb(PullProgress{Status: chunk.Status, Completed: chunk.Completed, Total: chunk.Total, Done: done}) {
			return nil
		}
	}
	return scanner.Err()
}

// WarmModel and UnloadModel control keep-alive residency by issuing a
// zero-token generate with keep_alive set to "5m" or "0" respectively —
// the same trick the local inference service's own CLI uses.
func (c *HTTPClient) WarmModel(ctx context.Context, name string) error {
	return c.keepAliveGenerate(ctx, name, "5m")
}

func (c *HTTPClient) UnloadModel(ctx context.Context, name string) error {
	return c.keepAliveGenerate(ctx, name, "0")
}

func (c *HTTPClient) keepAliveGenerate(ctx context.Context, name, keepAlive string) error {
	if err := validateModelName(name); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]any{"model": name, "keep_alive": keepAlive, "prompt": ""})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindNotReachable, "local model service unreachable", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// --- capability detection -------------------------------------------------

var visionPrefixes = []string{"llava", "bakllava", "moondream", "llama3.2-vision", "qwen2-vl", "qwen2.5-vl"}

func detectCapabilityFromTemplate(name, template string) Capability {
	lowerName := strings.ToLower(name)
	for _, p := range visionPrefixes {
		if strings.HasPrefix(lowerName, p) {
			return CapabilityVision
		}
	}
	lowerTemplate := strings.ToLower(template)
	for _, token := range []string{"projector", "mmproj", "vision"} {
		if strings.Contains(lowerTemplate, token) {
			return CapabilityVision
		}
	}
	return CapabilityTextOnly
}

// DetectCapability consults the known-prefix set first; on a miss it
// calls ShowModel and scans the template. On probe failure it defaults to
// TextOnly (conservative, per spec §4.A).
func (c *HTTPClient) DetectCapability(ctx context.Context, name string) (Capability, error) {
	lowerName := strings.ToLower(name)
	for _, p := range visionPrefixes {
		if strings.HasPrefix(lowerName, p) {
			return CapabilityVision, nil
		}
	}
	info, err := c.ShowModel(ctx, name)
	if err != nil {
		return CapabilityTextOnly, nil
	}
	return info.Capability, nil
}

// --- resolver --------------------------------------------------------------

// ResolveModel applies the resolver chain of spec §4.A: user_selected if
// installed, else any of the curated recommended list, else (if
// fallbackAny) the first installed model, else NoModelAvailable.
func (c *HTTPClient) ResolveModel(ctx context.Context, userSelected string, fallbackAny bool) (string, error) {
	installed, err := c.ListModelsDetailed(ctx)
	if err != nil {
		return "", err
	}
	names := make(map[string]bool, len(installed))
	for _, m := range installed {
		names[m.Name] = true
	}

	if userSelected != "" && names[userSelected] {
		return userSelected, nil
	}
	for _, candidate := range c.recommendedModels {
		if names[candidate] {
			return candidate, nil
		}
	}
	if fallbackAny && len(installed) > 0 {
		return installed[0].Name, nil
	}
	return "", errs.New(errs.KindNoModelAvailable, "no model available to resolve")
}

// --- generation: non-streaming, with bounded retry -------------------------

type generateRequest struct {
	Model   string     `json:"model"`
	Prompt  string     `json:"prompt"`
	Stream  bool     `json:"stream"`
	KeepAlive string     `json:"keep_alive,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done   bool  `json:"done"`
}

func buildOptions(params GenerationParams, defaultTemp, defaultTopP float64, defaultTopK, defaultNumPredict, defaultNumCtx int) map[string]any {
	temp := defaultTemp
	if params.Temperature != nil {
		temp = *params.Temperature
	}
	topP := defaultTopP
	if params.TopP != nil {
		topP = *params.TopP
	}
	topK := defaultTopK
	if params.TopK != nil {
		topK = *params.TopK
	}
	numPredict := defaultNumPredict
	if params.NumPredict != nil {
		numPredict = *params.NumPredict
	}
	numCtx := defaultNumCtx
	if params.NumCtx != nil {
		numCtx = *params.NumCtx
	}
	return map[string]any{
		"temperature": temp,
		"top_p":    topP,
		"top_k":    topK,
		"num_predict": numPredict,
		"num_ctx":   numCtx,
	}
}

func (c *HTTPClient) keepAlive(params GenerationParams) string {
	if params.KeepAlive != "" {
		return params.KeepAlive
	}
	return "30m"
}

// Generate issues a non-streaming /api/generate call. Per spec §4.A it
// retries up to twice on 500/503 with exponential backoff (10s, 20s);
// connect failure is not retried.
func (c *HTTPClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	if err := validateModelName(params.Model); err != nil {
		return "", err
	}
	backoffs := []time.Duration{10 * time.Second, 20 * time.Second}
	var lastErr error
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		out, status, err := c.doGenerate(ctx, prompt, params)
		if err == nil {
			return out, nil
		}
		if status != http.StatusInternalServerError && status != http.StatusServiceUnavailable {
			return "", err
		}
		lastErr = err
		if attempt < len(backoffs) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoffs[attempt]):
			}
		}
	}
	return "", lastErr
}

func (c *HTTPClient) doGenerate(ctx context.Context, prompt string, params GenerationParams) (string, int, error) {
	req := generateRequest{
		Model:   params.Model,
		Prompt:  prompt,
		Stream:  false,
		KeepAlive: c.keepAlive(params),
		Options:  buildOptions(params, 0.2, 0.9, 20, 8192, 8192),
	}
	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", 0, errs.Wrap(errs.KindNotReachable, "local model service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", resp.StatusCode, errs.New(errs.KindModelNotFound, params.Model)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", resp.StatusCode, errs.New(errs.KindOllamaError, fmt.Sprintf("status=%d body=%s", resp.StatusCode, b))
	}
	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", resp.StatusCode, errs.Wrap(errs.KindMalformedResponse, "malformed /api/generate response", err)
	}
	return gr.Response, resp.StatusCode, nil
}

// --- streaming generation ---------------------------------------------------

type streamChunk struct {
	Response string `json:"response"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Thinking string `json:"thinking"`
	Done   bool  `json:"done"`
	Error  string `json:"error"`
}

// GenerateStreaming issues a streaming /api/generate call, pushing each
// token to cb. Streaming is mandatory for long-running calls even when
// the caller wants the fully-collected string, because idle sockets on
// some platforms close at 30s and inference does not emit bytes
// mid-generation otherwise (spec §4.A).
func (c *HTTPClient) GenerateStreaming(ctx context.Context, prompt string, params GenerationParams, cb StreamCallback) error {
	if err := validateModelName(params.Model); err != nil {
		return err
	}
	req := generateRequest{
		Model:   params.Model,
		Prompt:  prompt,
		Stream:  true,
		KeepAlive: c.keepAlive(params),
		Options:  buildOptions(params, 0.2, 0.9, 20, 8192, 8192),
	}
	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errs.Wrap(errs.KindNotReachable, "local model service unreachable", err)
	}
	defer resp.Body.Close()

	return c.readStream(ctx, resp.Body, cb)
}

// ChatWithImages sends a single chat turn with embedded images to the
// vision path (spec §4.B rasterized extraction). Images above
// maxImageBytes (base64-encoded) are rejected before the request leaves
// the process.
func (c *HTTPClient) ChatWithImages(ctx context.Context, systemPrompt, userPrompt string, images [][]byte, params GenerationParams) (string, error) {
	if err := validateModelName(params.Model); err != nil {
		return "", err
	}
	encoded := make([]string, 0, len(images))
	for _, img := range images {
		b64 := base64.StdEncoding.EncodeToString(img)
		if len(b64) > maxImageBytes {
			return "", errs.New(errs.KindImageTooLarge, "image exceeds 20MB base64 bound")
		}
		encoded = append(encoded, b64)
	}

	messages := []map[string]any{}
	if systemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]any{"role": "user", "content": userPrompt, "images": encoded})

	reqBody := map[string]any{
		"model":   params.Model,
		"messages": messages,
		"stream":  true,
		"keep_alive": c.keepAlive(params),
		"options":  buildOptions(params, 0.0, 0.9, 40, 8192, 4096),
	}
	body, _ := json.Marshal(reqBody)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", errs.Wrap(errs.KindNotReachable, "local model service unreachable", err)
	}
	defer resp.Body.Close()

	var collected strings.Builder
	err = c.readStream(ctx, resp.Body, func(ev StreamEvent) bool {
		if ev.Type == StreamEventToken {
			collected.WriteString(ev.Token)
		}
		return true
	})
	if err != nil {
		return "", err
	}
	return collected.String(), nil
}

// GenerateStreamingGuarded streams a generation through a StreamGuard,
// aborting the HTTP read the moment degeneration is detected (spec §4.C).
func (c *HTTPClient) GenerateStreamingGuarded(ctx context.Context, prompt string, params GenerationParams, guard *StreamGuard, cb StreamCallback) (string, error) {
	if guard == nil {
		guard = DefaultStreamGuard()
	}
	guardedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var degenErr *DegenerationError
	err := c.GenerateStreaming(guardedCtx, prompt, params, func(ev StreamEvent) bool {
		if ev.Type == StreamEventToken {
			if pattern := guard.Observe(ev.Token); pattern != nil {
				degenErr = &DegenerationError{
					Pattern:      *pattern,
					TokensBeforeAbort: guard.TokensSeen(),
					PartialOutput:   guard.PartialOutput(),
				}
				cancel()
				return false
			}
		}
		if cb != nil {
			return cb(ev)
		}
		return true
	})
	if degenErr != nil {
		return degenErr.PartialOutput, degenErr
	}
	if err != nil {
		return "", err
	}
	return guard.PartialOutput(), nil
}

// readStream scans resp.Body as NDJSON, one /api/generate or /api/chat
// chunk per line, pushing tokens to cb until a line with done=true.
// Buffer sizing (64KB initial, 1MB max line) matches the teacher's
// readStreamResponse in services/llm/ollama_llm.go.
func (c *HTTPClient) readStream(ctx context.Context, body io.Reader, cb StreamCallback) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk streamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			if cb != nil {
				cb(StreamEvent{Type: StreamEventError, Err: fmt.Errorf("%s", chunk.Error)})
			}
			return errs.New(errs.KindOllamaError, chunk.Error)
		}
		token := chunk.Response
		if token == "" {
			token = chunk.Message.Content
		}
		if token != "" && cb != nil {
			if !cb(StreamEvent{Type: StreamEventToken, Token: token}) {
				return nil
			}
		}
		if chunk.Thinking != "" && cb != nil {
			cb(StreamEvent{Type: StreamEventThinking, Token: chunk.Thinking})
		}
		if chunk.Done {
			if cb != nil {
				cb(StreamEvent{Type: StreamEventDone})
			}
			break
		}
	}
	return scanner.Err()
}

var _ Client = (*HTTPClient)(nil)
