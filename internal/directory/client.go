package directory

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dorumdorum/chatlink/internal/credential"
	"github.com/dorumdorum/chatlink/internal/domain"
)

type apiResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type roomPageResponse struct {
	apiResponse
	Data domain.RoomPage `json:"data"`
}

type messagePageResponse struct {
	apiResponse
	Data domain.MessagePage `json:"data"`
}

type restDirectory struct {
	http  *resty.Client
	creds credential.Source
}

// New creates a Directory backed by the chat backend's REST API. The bearer
// token is re-read from creds on every request so credential rotation is
// picked up immediately.
func New(baseURL string, timeout time.Duration, creds credential.Source) Directory {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &restDirectory{
		http:  client,
		creds: creds,
	}
}

func (d *restDirectory) request(ctx context.Context) (*resty.Request, error) {
	token, err := d.creds.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	return d.http.R().
		SetContext(ctx).
		SetAuthToken(token), nil
}

func checkStatus(resp *resty.Response, body *apiResponse) error {
	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	}
	if resp.IsError() {
		if body != nil && body.Error != "" {
			return fmt.Errorf("directory request failed: %s", body.Error)
		}
		return fmt.Errorf("directory request failed: status %d", resp.StatusCode())
	}
	return nil
}

func (d *restDirectory) ListRooms(ctx context.Context, cursor string) (*domain.RoomPage, error) {
	req, err := d.request(ctx)
	if err != nil {
		return nil, err
	}

	var body roomPageResponse
	resp, err := req.
		SetQueryParam("cursor", cursor).
		SetResult(&body).
		SetError(&body).
		Get("/message-rooms")
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	if err := checkStatus(resp, &body.apiResponse); err != nil {
		return nil, err
	}

	return &body.Data, nil
}

func (d *restDirectory) GetMessages(ctx context.Context, roomID, cursor string, size int) (*domain.MessagePage, error) {
	req, err := d.request(ctx)
	if err != nil {
		return nil, err
	}

	var body messagePageResponse
	resp, err := req.
		SetQueryParams(map[string]string{
			"cursor": cursor,
			"size":   strconv.Itoa(size),
		}).
		SetResult(&body).
		SetError(&body).
		Get(fmt.Sprintf("/message-rooms/%s/messages", roomID))
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for room %s: %w", roomID, err)
	}
	if err := checkStatus(resp, &body.apiResponse); err != nil {
		return nil, err
	}

	return &body.Data, nil
}

func (d *restDirectory) SendChatRequest(ctx context.Context, receiverID, initMessage string) error {
	req, err := d.request(ctx)
	if err != nil {
		return err
	}

	var body apiResponse
	payload := map[string]string{}
	if initMessage != "" {
		payload["initMessage"] = initMessage
	}

	resp, err := req.
		SetBody(payload).
		SetResult(&body).
		SetError(&body).
		Post(fmt.Sprintf("/chat/request/%s", receiverID))
	if err != nil {
		return fmt.Errorf("failed to send chat request: %w", err)
	}
	return checkStatus(resp, &body)
}

func (d *restDirectory) DecideRequest(ctx context.Context, requestID, decision string) error {
	req, err := d.request(ctx)
	if err != nil {
		return err
	}

	var body apiResponse
	resp, err := req.
		SetBody(map[string]string{"decision": decision}).
		SetResult(&body).
		SetError(&body).
		Patch(fmt.Sprintf("/chat/request/%s", requestID))
	if err != nil {
		return fmt.Errorf("failed to decide chat request %s: %w", requestID, err)
	}
	return checkStatus(resp, &body)
}

func (d *restDirectory) LeaveRoom(ctx context.Context, roomID string) error {
	req, err := d.request(ctx)
	if err != nil {
		return err
	}

	var body apiResponse
	resp, err := req.
		SetResult(&body).
		SetError(&body).
		Post(fmt.Sprintf("/message-rooms/%s/leave", roomID))
	if err != nil {
		return fmt.Errorf("failed to leave room %s: %w", roomID, err)
	}
	return checkStatus(resp, &body)
}

func (d *restDirectory) DeleteRoom(ctx context.Context, roomID string) error {
	req, err := d.request(ctx)
	if err != nil {
		return err
	}

	var body apiResponse
	resp, err := req.
		SetResult(&body).
		SetError(&body).
		Delete(fmt.Sprintf("/message-rooms/%s", roomID))
	if err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomID, err)
	}
	return checkStatus(resp, &body)
}
