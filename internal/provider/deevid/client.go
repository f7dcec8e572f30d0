// Package deevid is the HTTP client for the Deevid image and video generation API.
package deevid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/deneee3444-wq/api/internal/config"
	"github.com/deneee3444-wq/api/pkg/models"
)

// Sentinel errors for Deevid client failures.
var (
	ErrUnauthorized = errors.New("deevid login rejected")
	ErrUpstream     = errors.New("deevid upstream error")
	ErrUnreachable  = errors.New("deevid unreachable")
)

const (
	DefaultImageModel = "MODEL_FOUR_NANO_BANANA_PRO"
	DefaultVideoModel = "SORA2"
	VideoModelVeo     = "VEO_3_1"
	DefaultAspect     = "SIXTEEN_BY_NINE"
	DefaultResolution = "2K"

	maxErrorBody = 512
)

// RejectionError is returned by Submit when the provider explicitly refuses
// the work. Code is the provider error code, or the HTTP status when the
// response carried none.
type RejectionError struct {
	Code int
	Body string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("deevid rejected submission (code %d): %s", e.Code, e.Body)
}

// Is makes errors.Is(err, models.ErrSubmissionRejected) hold.
func (e *RejectionError) Is(target error) bool {
	return target == models.ErrSubmissionRejected
}

// deviceHeaders are sent with every API call; the service rejects requests
// that do not look like they come from its web client.
var deviceHeaders = map[string]string{
	"x-device":    "TABLET",
	"x-device-id": "3401879229",
	"x-os":        "WINDOWS",
	"x-platform":  "WEB",
	"User-Agent":  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Client implements models.GenerationProvider against the Deevid HTTP API.
type Client struct {
	authURL string
	apiURL  string
	anonKey string
	client  *http.Client
}

// NewClient creates a new Deevid client.
func NewClient(cfg config.DeevidConfig) *Client {
	return &Client{
		authURL: strings.TrimRight(cfg.AuthURL, "/"),
		apiURL:  strings.TrimRight(cfg.APIURL, "/"),
		anonKey: cfg.AnonKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string { return "deevid" }

// Login exchanges an account for an access token, then touches the
// subscription endpoint so the account's quota is current. The quota refresh
// is best-effort.
func (c *Client) Login(ctx context.Context, identifier, secret string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"email":                strings.TrimSpace(identifier),
		"password":             strings.TrimSpace(secret),
		"gotrue_meta_security": map[string]any{},
	})
	if err != nil {
		return "", fmt.Errorf("encoding login request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.authURL+"/token?grant_type=password", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("apikey", c.anonKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrUnauthorized, resp.StatusCode, readSnippet(resp.Body))
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding login response: %v", ErrUpstream, err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: no access token in response", ErrUnauthorized)
	}

	c.refreshQuota(ctx, out.AccessToken)
	return out.AccessToken, nil
}

func (c *Client) refreshQuota(ctx context.Context, token string) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/subscription/plan", nil)
	if err != nil {
		return
	}
	c.setHeaders(httpReq, token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		slog.Debug("deevid quota refresh failed", "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// UploadImage stores an input image and returns its provider-side id.
func (c *Client) UploadImage(ctx context.Context, token string, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrUpstream)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	contentType := http.DetectContentType(image)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+uploadFilename(contentType)+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	_ = mw.WriteField("width", "1024")
	_ = mw.WriteField("height", "1536")
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/file-upload/image", &buf)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq, token)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: upload status %d: %s", ErrUpstream, resp.StatusCode, readSnippet(resp.Body))
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding upload response: %v", ErrUpstream, err)
	}
	if out.Data.Data.ID == "" {
		return "", fmt.Errorf("%w: upload response has no image id", ErrUpstream)
	}
	return string(out.Data.Data.ID), nil
}

// Submit hands a generation request to the provider and returns its task id.
// An explicit refusal is returned as *RejectionError.
func (c *Client) Submit(ctx context.Context, token string, req models.SubmitRequest) (string, error) {
	endpoint, payload, err := buildSubmission(req)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq, token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading submit response: %v", ErrUpstream, err)
	}

	var out submitResponse
	decodeErr := json.Unmarshal(raw, &out)
	if decodeErr == nil && out.Error != nil && out.Error.Code != 0 {
		return "", &RejectionError{Code: out.Error.Code, Body: truncate(string(raw))}
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: submit status %d: %s", ErrUpstream, resp.StatusCode, truncate(string(raw)))
	}
	if resp.StatusCode >= 400 {
		return "", &RejectionError{Code: resp.StatusCode, Body: truncate(string(raw))}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: decoding submit response: %v", ErrUpstream, decodeErr)
	}
	if out.Data.Data.TaskID == "" {
		return "", fmt.Errorf("%w: submit response has no task id", ErrUpstream)
	}
	return string(out.Data.Data.TaskID), nil
}

// Poll looks the task up in the account's recent creations. A task that is
// not listed yet, or succeeded without a usable URL, is still pending.
func (c *Client) Poll(ctx context.Context, token string, kind models.JobKind, correlationID string) (models.PollResult, error) {
	switch kind {
	case models.JobKindImage:
		return c.pollImage(ctx, token, correlationID)
	case models.JobKindVideo:
		return c.pollVideo(ctx, token, correlationID)
	default:
		return models.PollResult{}, fmt.Errorf("deevid: cannot poll %q jobs", kind)
	}
}

func (c *Client) pollImage(ctx context.Context, token, taskID string) (models.PollResult, error) {
	var out assetsResponse
	if err := c.getJSON(ctx, token, "/my-assets?limit=50&assetType=All&filter=CREATION", &out); err != nil {
		return models.PollResult{}, err
	}

	for _, group := range out.Data.Data.Groups {
		for _, item := range group.Items {
			creation := item.Detail.Creation
			if string(creation.TaskID) != taskID {
				continue
			}
			switch creation.TaskState {
			case "SUCCESS":
				if len(creation.NoWaterMarkImageURL) > 0 && creation.NoWaterMarkImageURL[0] != "" {
					return models.PollResult{State: models.PollSucceeded, ResultLocator: creation.NoWaterMarkImageURL[0]}, nil
				}
			case "FAIL":
				return models.PollResult{State: models.PollFailed}, nil
			}
		}
	}
	return models.PollResult{State: models.PollPending}, nil
}

func (c *Client) pollVideo(ctx context.Context, token, taskID string) (models.PollResult, error) {
	var out videoTasksResponse
	if err := c.getJSON(ctx, token, "/video/tasks?page=1&size=20", &out); err != nil {
		return models.PollResult{}, err
	}

	for _, v := range out.Data.Data {
		if string(v.TaskID) != taskID {
			continue
		}
		switch v.TaskState {
		case "SUCCESS":
			url := v.NoWaterMarkVideoURL.first()
			if url == "" {
				url = v.NoWatermarkVideoURL.first()
			}
			if url != "" {
				return models.PollResult{State: models.PollSucceeded, ResultLocator: url}, nil
			}
		case "FAIL":
			return models.PollResult{State: models.PollFailed}, nil
		}
	}
	return models.PollResult{State: models.PollPending}, nil
}

func (c *Client) getJSON(ctx context.Context, token, path string, dst any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq, token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUpstream, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	for k, v := range deviceHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("authorization", "Bearer "+token)
}

// buildSubmission maps a provider-neutral request onto the endpoint and
// payload the service expects for that kind and model.
func buildSubmission(req models.SubmitRequest) (string, map[string]any, error) {
	switch req.Kind {
	case models.JobKindImage:
		model := orDefault(req.Model, DefaultImageModel)
		payload := map[string]any{
			"prompt":       req.Prompt,
			"imageSize":    orDefault(req.ImageSize, DefaultAspect),
			"count":        1,
			"modelType":    "MODEL_FOUR",
			"modelVersion": model,
		}
		if model == DefaultImageModel {
			payload["resolution"] = orDefault(req.Resolution, DefaultResolution)
		}
		if len(req.ImageIDs) > 0 {
			payload["userImageIds"] = req.ImageIDs
		}
		return "/text-to-image/task/submit", payload, nil

	case models.JobKindVideo:
		payload := map[string]any{
			"prompt":          req.Prompt,
			"resolution":      "720p",
			"lengthOfSecond":  10,
			"aiPromptEnhance": true,
			"size":            orDefault(req.Size, DefaultAspect),
			"addEndFrame":     false,
		}
		i2v := len(req.ImageIDs) > 0
		if i2v {
			id, err := strconv.ParseInt(strings.TrimSpace(req.ImageIDs[0]), 10, 64)
			if err != nil {
				return "", nil, fmt.Errorf("%w: non-numeric image id %q", ErrUpstream, req.ImageIDs[0])
			}
			payload["userImageId"] = id
		}

		if orDefault(req.Model, DefaultVideoModel) == VideoModelVeo {
			payload["lengthOfSecond"] = 8
			payload["modelType"] = "MODEL_FIVE"
			payload["modelVersion"] = "MODEL_FIVE_FAST_3"
		} else if i2v {
			payload["modelVersion"] = "MODEL_ELEVEN_IMAGE_TO_VIDEO_V2"
		} else {
			payload["modelType"] = "MODEL_ELEVEN"
			payload["modelVersion"] = "MODEL_ELEVEN_TEXT_TO_VIDEO_V2"
		}

		if i2v {
			return "/image-to-video/task/submit", payload, nil
		}
		return "/text-to-video/task/submit", payload, nil
	}
	return "", nil, fmt.Errorf("deevid: cannot submit %q jobs", req.Kind)
}

// classifyError maps transport-level errors to sentinel errors.
// Context cancellation is passed through untouched.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func uploadFilename(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "image.jpg"
	case "image/webp":
		return "image.webp"
	case "image/gif":
		return "image.gif"
	}
	return "image.png"
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody]
}

// Compile-time check that Client implements GenerationProvider.
var _ models.GenerationProvider = (*Client)(nil)
