package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/clearspan/screenroom/internal/api"
)

// Transport carries the signaling operations to the relay. The HTTP
// implementation below is the production one; tests substitute fakes.
type Transport interface {
	CreateRoom(ctx context.Context, requestedID string) (string, error)
	Publish(ctx context.Context, roomID string, offer api.SDPExchange) (api.SignalResponse, error)
	Subscribe(ctx context.Context, roomID string, offer api.SDPExchange) (api.SignalResponse, error)
	Release(ctx context.Context, roomID, peerID string) error
}

// RemoteError is a signaling rejection carrying the relay's error code.
type RemoteError struct {
	Code   api.ErrorCode
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// IsRemoteCode reports whether err is a signaling rejection with the given
// code.
func IsRemoteCode(err error, code api.ErrorCode) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == code
}

const defaultRequestTimeout = 15 * time.Second

// HTTPTransport signals against a relay over HTTP+JSON.
type HTTPTransport struct {
	baseURL string
	client  *fasthttp.Client
}

func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		client: &fasthttp.Client{
			ReadTimeout:  defaultRequestTimeout,
			WriteTimeout: defaultRequestTimeout,
		},
	}
}

func (t *HTTPTransport) BaseURL() string {
	return t.baseURL
}

func (t *HTTPTransport) CreateRoom(ctx context.Context, requestedID string) (string, error) {
	var resp api.CreateRoomResponse
	req := api.CreateRoomRequest{RoomID: requestedID}
	if err := t.postJSON(ctx, "/api/rooms", req, &resp); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	if !resp.Success {
		return "", fmt.Errorf("create room: %w", &RemoteError{Code: resp.Error, Detail: resp.Detail})
	}
	return resp.RoomID, nil
}

func (t *HTTPTransport) Publish(ctx context.Context, roomID string, offer api.SDPExchange) (api.SignalResponse, error) {
	return t.exchange(ctx, "/api/rooms/"+roomID+"/publish", offer)
}

func (t *HTTPTransport) Subscribe(ctx context.Context, roomID string, offer api.SDPExchange) (api.SignalResponse, error) {
	return t.exchange(ctx, "/api/rooms/"+roomID+"/subscribe", offer)
}

func (t *HTTPTransport) Release(ctx context.Context, roomID, peerID string) error {
	var resp api.ReleaseResponse
	return t.do(ctx, fasthttp.MethodDelete, "/api/rooms/"+roomID+"/peers/"+peerID, nil, &resp)
}

func (t *HTTPTransport) exchange(ctx context.Context, path string, offer api.SDPExchange) (api.SignalResponse, error) {
	var resp api.SignalResponse
	if err := t.postJSON(ctx, path, offer, &resp); err != nil {
		return api.SignalResponse{}, err
	}
	if !resp.Success {
		return api.SignalResponse{}, &RemoteError{Code: resp.Error, Detail: resp.Detail}
	}
	return resp, nil
}

func (t *HTTPTransport) postJSON(ctx context.Context, path string, body, out any) error {
	return t.do(ctx, fasthttp.MethodPost, path, body, out)
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(t.baseURL + path)
	req.Header.SetMethod(method)
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	deadline := time.Now().Add(defaultRequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if len(resp.Body()) == 0 {
		return fmt.Errorf("%s %s: empty response (status %d)", method, path, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
