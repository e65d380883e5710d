// Package convert talks to the external conversion service. Every call
// carries exactly one file; batching is done by the caller.
package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"imgbatch/internal/format"
	"imgbatch/internal/resize"
)

const (
	DefaultTimeout          = 60 * time.Second
	DefaultDetail           = "Conversion failed"
	defaultMaxResponseBytes = 512 << 20
)

var ErrResponseTooLarge = errors.New("converted file exceeds size limit")

// Request is one file plus the parameters to convert it with.
type Request struct {
	Filename string
	Data     []byte
	Target   format.Format
	Quality  int
	Resize   resize.Parameters
}

// Response is a converted file. Filename is the sanitised disposition hint
// sent by the service, or "" when there was none.
type Response struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Converter converts a single file.
type Converter interface {
	Convert(ctx context.Context, req Request) (Response, error)
}

// ServiceError is a non-success answer from the conversion service.
type ServiceError struct {
	StatusCode int
	Detail     string
}

func (e *ServiceError) Error() string { return e.Detail }

// Formats is the list of formats advertised by the service.
type Formats struct {
	Input  []string `json:"input_formats"`
	Output []string `json:"output_formats"`
}

// LocalFormats is the built-in format table in the service's shape.
func LocalFormats() Formats {
	var f Formats
	for _, in := range format.InputFormats() {
		f.Input = append(f.Input, in.String())
	}
	for _, out := range format.OutputFormats() {
		f.Output = append(f.Output, out.String())
	}
	return f
}

// Client is the HTTP implementation of Converter.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	maxResponseBytes int64
}

// NewClient creates a client for the service at baseURL. Timeouts are owned
// by the transport; timeout <= 0 selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: timeout})
}

// NewClientWithHTTP creates a client using the given http.Client.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		httpClient:       httpClient,
		maxResponseBytes: defaultMaxResponseBytes,
	}
}

// Convert submits one file. A non-2xx answer yields *ServiceError carrying
// the service's detail message, or DefaultDetail when it gave none.
func (c *Client) Convert(ctx context.Context, req Request) (Response, error) {
	body, contentType, err := encodeRequest(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", body)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	httpResponse, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Warn().Str("file", req.Filename).Err(err).Msg("conversion request failed")
		return Response{}, fmt.Errorf("conversion request: %w", err)
	}
	defer func() { _ = httpResponse.Body.Close() }()

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		detail := readDetail(httpResponse.Body)
		log.Warn().Str("file", req.Filename).Int("status", httpResponse.StatusCode).Str("detail", detail).Msg("conversion rejected")
		return Response{}, &ServiceError{StatusCode: httpResponse.StatusCode, Detail: detail}
	}

	data, err := io.ReadAll(io.LimitReader(httpResponse.Body, c.maxResponseBytes+1))
	if err != nil {
		return Response{}, fmt.Errorf("read converted file: %w", err)
	}
	if int64(len(data)) > c.maxResponseBytes {
		return Response{}, ErrResponseTooLarge
	}

	return Response{
		Data:        data,
		Filename:    dispositionFilename(httpResponse.Header.Get("Content-Disposition")),
		ContentType: mediaType(httpResponse.Header.Get("Content-Type")),
	}, nil
}

// Formats asks the service which formats it supports.
func (c *Client) Formats(ctx context.Context) (Formats, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/formats", nil)
	if err != nil {
		return Formats{}, fmt.Errorf("create request: %w", err)
	}
	httpResponse, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Formats{}, fmt.Errorf("formats request: %w", err)
	}
	defer func() { _ = httpResponse.Body.Close() }()

	if httpResponse.StatusCode != http.StatusOK {
		return Formats{}, &ServiceError{StatusCode: httpResponse.StatusCode, Detail: readDetail(httpResponse.Body)}
	}
	var f Formats
	if err := json.NewDecoder(httpResponse.Body).Decode(&f); err != nil {
		return Formats{}, fmt.Errorf("decode formats: %w", err)
	}
	return f, nil
}

func encodeRequest(req Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("files", req.Filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"target_format", req.Target.String()},
		{"quality", strconv.Itoa(req.Quality)},
	}
	if v := req.Resize.ResizePercent; v != nil {
		fields = append(fields, [2]string{"resize_percent", strconv.Itoa(*v)})
	}
	if v := req.Resize.Width; v != nil {
		fields = append(fields, [2]string{"width", strconv.Itoa(*v)})
	}
	if v := req.Resize.Height; v != nil {
		fields = append(fields, [2]string{"height", strconv.Itoa(*v)})
	}
	if v := req.Resize.MaintainAspectRatio; v != nil {
		fields = append(fields, [2]string{"maintain_aspect_ratio", strconv.FormatBool(*v)})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// readDetail extracts the human-readable message from an error body.
// The service answers {"detail": "..."}; validation failures carry a list
// of {"msg": "..."} objects instead.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(raw) == 0 {
		return DefaultDetail
	}
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return DefaultDetail
	}

	var text string
	if err := json.Unmarshal(body.Detail, &text); err == nil {
		if text = strings.TrimSpace(text); text != "" {
			return text
		}
		return DefaultDetail
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(body.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return DefaultDetail
}

func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name, ok := params["filename"]
	if !ok || strings.TrimSpace(name) == "" {
		return ""
	}
	return SanitizeFilename(name)
}

func mediaType(header string) string {
	if end := strings.IndexByte(header, ';'); end != -1 {
		header = header[:end]
	}
	return strings.TrimSpace(header)
}
