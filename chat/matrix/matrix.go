// Package matrix implements chat.Backend against a Matrix homeserver using the
// client-server API for room operations and the Synapse admin API for room
// listing.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/timeout"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/xiaonanln/oambridge/chat"
	errutil "github.com/xiaonanln/oambridge/util/errors"
	"github.com/xiaonanln/oambridge/util/logger"
)

const (
	defaultRequestTimeout = 10 * time.Second
	listPageSize          = 100
)

// Config configures a Client.
type Config struct {
	HomeserverURL  string
	ServerName     string
	AccessToken    string
	RequestTimeout time.Duration // per call, covers retries inside resty
	Preset         string        // room creation preset, default private_chat
}

// Client is a chat.Backend talking to a Matrix homeserver.
type Client struct {
	cfg      Config
	http     *resty.Client
	breaker  circuitbreaker.CircuitBreaker[any]
	executor failsafe.Executor[any]
	logger   *logger.Logger
}

// New creates a Client. Every call is bounded by cfg.RequestTimeout and runs
// through a circuit breaker shared by all operations.
func New(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Preset == "" {
		cfg.Preset = "private_chat"
	}
	log := logger.NewLogger("MatrixClient")

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.HomeserverURL, "/")).
		SetAuthToken(cfg.AccessToken).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r != nil && (r.StatusCode() == 429 || r.StatusCode() >= 500)
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			var httpErr *chat.HTTPError
			if errors.As(err, &httpErr) {
				return httpErr.Retryable()
			}
			return err != nil
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(15 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			log.Warnf("Circuit breaker %v -> %v", e.OldState, e.NewState)
		}).
		Build()

	return &Client{
		cfg:      cfg,
		http:     httpClient,
		breaker:  breaker,
		executor: failsafe.With[any](breaker, timeout.New[any](cfg.RequestTimeout)),
		logger:   log,
	}
}

// BreakerOpen reports whether the circuit breaker is currently rejecting calls.
func (c *Client) BreakerOpen() bool {
	return c.breaker.IsOpen()
}

type matrixError struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}

// do runs fn through the executor with a context bounded by the timeout policy.
func (c *Client) do(ctx context.Context, op string, fn func(req *resty.Request) (*resty.Response, error)) error {
	_, err := c.executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		var merr matrixError
		resp, err := fn(c.http.R().SetContext(exec.Context()).SetError(&merr))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if resp.IsError() {
			return nil, &chat.HTTPError{
				Operation:  op,
				StatusCode: resp.StatusCode(),
				ErrCode:    merr.ErrCode,
				Message:    merr.Error,
			}
		}
		return nil, nil
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errutil.IsTimeout(err) {
		return errutil.NewTimeoutError(op, c.cfg.HomeserverURL, c.cfg.RequestTimeout, err)
	}
	return err
}

type adminRoom struct {
	RoomID         string `json:"room_id"`
	Name           string `json:"name"`
	CanonicalAlias string `json:"canonical_alias"`
	RoomType       string `json:"room_type"`
}

type adminRoomList struct {
	Rooms     []adminRoom `json:"rooms"`
	NextBatch *int64      `json:"next_batch"`
	Total     int         `json:"total_rooms"`
}

// ListRooms pages through the admin room list, narrowed server-side by the
// literal prefix of aliasGlob and filtered locally with path.Match.
func (c *Client) ListRooms(ctx context.Context, aliasGlob string) ([]chat.RoomSummary, error) {
	term := searchTerm(aliasGlob)
	var out []chat.RoomSummary
	var from int64
	for {
		var page adminRoomList
		err := c.do(ctx, "list rooms", func(req *resty.Request) (*resty.Response, error) {
			req.SetResult(&page).
				SetQueryParam("limit", fmt.Sprint(listPageSize)).
				SetQueryParam("from", fmt.Sprint(from))
			if term != "" {
				req.SetQueryParam("search_term", term)
			}
			return req.Get("/_synapse/admin/v1/rooms")
		})
		if err != nil {
			return nil, err
		}
		for _, r := range page.Rooms {
			if aliasGlob != "" {
				if ok, _ := path.Match(aliasGlob, r.CanonicalAlias); !ok {
					continue
				}
			}
			out = append(out, chat.RoomSummary{
				RoomID:         r.RoomID,
				Name:           r.Name,
				CanonicalAlias: r.CanonicalAlias,
				Space:          r.RoomType == "m.space",
			})
		}
		if page.NextBatch == nil || *page.NextBatch <= from || len(page.Rooms) == 0 {
			break
		}
		from = *page.NextBatch
	}
	c.logger.Debugf("Listed %d rooms matching %q", len(out), aliasGlob)
	return out, nil
}

// searchTerm returns the literal text of glob up to its first metacharacter.
func searchTerm(glob string) string {
	glob = strings.TrimPrefix(glob, "#")
	if i := strings.IndexAny(glob, `*?[\`); i >= 0 {
		glob = glob[:i]
	}
	if i := strings.IndexByte(glob, ':'); i >= 0 {
		glob = glob[:i]
	}
	return glob
}

type stateEvent struct {
	Type     string         `json:"type"`
	StateKey string         `json:"state_key"`
	Content  map[string]any `json:"content"`
}

type createRoomBody struct {
	Name            string         `json:"name,omitempty"`
	RoomAliasName   string         `json:"room_alias_name,omitempty"`
	Topic           string         `json:"topic,omitempty"`
	Preset          string         `json:"preset,omitempty"`
	Visibility      string         `json:"visibility"`
	CreationContent map[string]any `json:"creation_content,omitempty"`
	InitialState    []stateEvent   `json:"initial_state,omitempty"`
}

// CreateRoom creates a room or space, recording its parent space in the
// initial state when one is given.
func (c *Client) CreateRoom(ctx context.Context, req chat.CreateRoomRequest) (chat.RoomSummary, error) {
	preset := req.Preset
	if preset == "" {
		preset = c.cfg.Preset
	}
	body := createRoomBody{
		Name:          req.Name,
		RoomAliasName: req.AliasName,
		Topic:         req.Topic,
		Preset:        preset,
		Visibility:    "private",
	}
	if req.Space {
		body.CreationContent = map[string]any{"type": "m.space"}
	}
	if req.ParentID != "" {
		body.InitialState = append(body.InitialState, stateEvent{
			Type:     "m.space.parent",
			StateKey: req.ParentID,
			Content:  map[string]any{"via": []string{c.cfg.ServerName}, "canonical": true},
		})
	}

	var result struct {
		RoomID string `json:"room_id"`
	}
	err := c.do(ctx, "create room", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(body).SetResult(&result).Post("/_matrix/client/v3/createRoom")
	})
	if err != nil {
		return chat.RoomSummary{}, err
	}
	if result.RoomID == "" {
		return chat.RoomSummary{}, fmt.Errorf("create room %s: empty room_id in response", req.AliasName)
	}
	summary := chat.RoomSummary{RoomID: result.RoomID, Name: req.Name, Space: req.Space}
	if req.AliasName != "" {
		summary.CanonicalAlias = "#" + req.AliasName + ":" + c.cfg.ServerName
	}
	c.logger.Infof("Created room %s (%s)", summary.RoomID, summary.CanonicalAlias)
	return summary, nil
}

// AddChild records childID as a child of spaceID.
func (c *Client) AddChild(ctx context.Context, spaceID, childID string) error {
	return c.do(ctx, "add child", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParams(map[string]string{"space": spaceID, "child": childID}).
			SetBody(map[string]any{"via": []string{c.cfg.ServerName}}).
			Put("/_matrix/client/v3/rooms/{space}/state/m.space.child/{child}")
	})
}

type messageBody struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// PostMessage sends an m.text message as senderID. Each call uses a fresh
// transaction ID.
func (c *Client) PostMessage(ctx context.Context, roomID, senderID string, body chat.MessageBody) error {
	msg := messageBody{MsgType: "m.text", Body: body.Plain}
	if body.Formatted != "" {
		msg.Format = "org.matrix.custom.html"
		msg.FormattedBody = body.Formatted
	}
	txn := uuid.NewString()
	return c.do(ctx, "post message", func(r *resty.Request) (*resty.Response, error) {
		r.SetPathParams(map[string]string{"room": roomID, "txn": txn}).SetBody(msg)
		if senderID != "" {
			r.SetQueryParam("user_id", senderID)
		}
		return r.Put("/_matrix/client/v3/rooms/{room}/send/m.room.message/{txn}")
	})
}

var _ chat.Backend = (*Client)(nil)
