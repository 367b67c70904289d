package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"voicedash/internal/calls"
)

// CallPage is one page of the paginated call list.
type CallPage struct {
	Calls []calls.CallRecord `json:"calls"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
	Total int                `json:"total"`
}

func (c *Client) ListCalls(ctx context.Context, page, limit int) (CallPage, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{"page": {itoa(page)}, "limit": {itoa(limit)}}
	var out CallPage
	if err := c.do(ctx, http.MethodGet, "/calls", q, nil, &out); err != nil {
		return CallPage{}, err
	}
	return out, nil
}

// ActiveCalls satisfies the reconciler Fetcher contract for the active set.
func (c *Client) ActiveCalls(ctx context.Context) ([]calls.CallRecord, error) {
	var out []calls.CallRecord
	if err := c.do(ctx, http.MethodGet, "/calls/active", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Call(ctx context.Context, id string) (calls.CallRecord, error) {
	var out calls.CallRecord
	if err := c.do(ctx, http.MethodGet, "/calls/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return calls.CallRecord{}, err
	}
	return out, nil
}

func (c *Client) Recordings(ctx context.Context, callID string) ([]calls.Recording, error) {
	var out []calls.Recording
	if err := c.do(ctx, http.MethodGet, "/calls/"+url.PathEscape(callID)+"/recordings", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Transcript(ctx context.Context, callID string) ([]calls.TranscriptMessage, error) {
	var out []calls.TranscriptMessage
	if err := c.do(ctx, http.MethodGet, "/calls/"+url.PathEscape(callID)+"/transcript", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TerminateCall ends an active call.
func (c *Client) TerminateCall(ctx context.Context, callID string) error {
	return c.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/terminate", nil, nil, nil)
}

// MakeCallRequest starts an outbound call. Number is required and is
// E.164-normalized client-side before the request goes out.
type MakeCallRequest struct {
	Number       string `json:"number"`
	FirstMessage string `json:"first_message,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	CallerID     string `json:"callerId,omitempty"`
	Name         string `json:"name,omitempty"`
}

type MakeCallResponse struct {
	CallID string           `json:"call_id"`
	Status calls.CallStatus `json:"status"`
}

func (c *Client) MakeCall(ctx context.Context, req MakeCallRequest) (MakeCallResponse, error) {
	number, err := NormalizeE164(req.Number)
	if err != nil {
		return MakeCallResponse{}, err
	}
	req.Number = number
	var out MakeCallResponse
	if err := c.do(ctx, http.MethodPost, "/calls", nil, req, &out); err != nil {
		return MakeCallResponse{}, err
	}
	return out, nil
}

// FetchRecording streams recording audio. The caller owns the returned
// reader and must close it; the content type is the provider-reported MIME
// type. Recordings are fetched through the client (not linked by URL) so
// auth headers stay server-side.
func (c *Client) FetchRecording(ctx context.Context, recordingID string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/recordings/"+url.PathEscape(recordingID), nil)
	if err != nil {
		return nil, "", err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("backend: fetch recording: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, "", fmt.Errorf("recording %s: %w", recordingID, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		resp.Body.Close()
		return nil, "", &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}
