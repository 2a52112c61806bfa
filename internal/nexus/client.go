package nexus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pubsync/pubsync/internal/apperr"
	"github.com/pubsync/pubsync/internal/logging"
	"github.com/pubsync/pubsync/internal/metrics"
	"github.com/pubsync/pubsync/internal/models"
)

const serviceName = "nexus"

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL string
	http    *http.Client
	errs    *apperr.Factory
	policy  *apperr.RetryPolicy
	reqs    *metrics.Requests
}

var _ Service = (*Client)(nil)

// NewClient builds a Client against baseURL. reqs may be nil.
func NewClient(baseURL string, timeout time.Duration, log logging.Logger, policy *apperr.RetryPolicy, reqs *metrics.Requests) *Client {
	if policy == nil {
		policy = apperr.DefaultRetryPolicy()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		errs:    apperr.NewFactory(serviceName, log),
		policy:  policy,
		reqs:    reqs,
	}
}

type userDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Bio       string `json:"bio"`
	Image     string `json:"image"`
	Followers int    `json:"followers"`
	Following int    `json:"following"`
	Posts     int    `json:"posts"`
	IndexedAt int64  `json:"indexed_at"`
}

func (d userDTO) toModel() models.User {
	return models.User{
		ID:        d.ID,
		Name:      d.Name,
		Bio:       d.Bio,
		Image:     d.Image,
		Followers: d.Followers,
		Following: d.Following,
		Posts:     d.Posts,
		IndexedAt: d.IndexedAt,
	}
}

type postDTO struct {
	ID          string   `json:"id"`
	Author      string   `json:"author"`
	Content     string   `json:"content"`
	Kind        string   `json:"kind"`
	ReplyTo     string   `json:"reply_to"`
	Attachments []string `json:"attachments"`
	IndexedAt   int64    `json:"indexed_at"`
}

func (d postDTO) toModel() (models.Post, error) {
	id, err := models.ParseCompositeID(d.ID)
	if err != nil {
		return models.Post{}, fmt.Errorf("post %q: %w", d.ID, err)
	}
	return models.Post{
		ID:          id,
		Author:      d.Author,
		Content:     d.Content,
		Kind:        d.Kind,
		ReplyTo:     d.ReplyTo,
		Attachments: d.Attachments,
		IndexedAt:   d.IndexedAt,
	}, nil
}

type bootstrapDTO struct {
	Indexed bool        `json:"indexed"`
	Users   []userDTO   `json:"users"`
	Posts   []postDTO   `json:"posts"`
	Lists   StreamLists `json:"ids"`
}

type notificationDTO struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Sender    string          `json:"sender"`
	PostID    string          `json:"post_id"`
	Body      json.RawMessage `json:"body"`
	Timestamp int64           `json:"timestamp"`
}

// FetchBootstrap fetches the aggregated snapshot. A 404 from the indexer
// means the identity is not indexed yet and is returned as Indexed=false,
// not an error.
func (c *Client) FetchBootstrap(ctx context.Context, pubky string) (*Bootstrap, error) {
	const op = "fetch_bootstrap"

	var dto bootstrapDTO
	err := c.getJSON(ctx, op, c.baseURL+"/v0/bootstrap/"+url.PathEscape(pubky), &dto)
	if err != nil {
		if apperr.IsNotFound(err) {
			return &Bootstrap{Indexed: false}, nil
		}
		return nil, err
	}

	b := &Bootstrap{
		Indexed: dto.Indexed,
		Users:   make([]models.User, 0, len(dto.Users)),
		Posts:   make([]models.Post, 0, len(dto.Posts)),
		Lists:   dto.Lists,
	}
	for _, u := range dto.Users {
		b.Users = append(b.Users, u.toModel())
	}
	for _, p := range dto.Posts {
		post, err := p.toModel()
		if err != nil {
			return nil, c.errs.New(apperr.CategoryServer, apperr.CodeInvalidResponse, op, err)
		}
		b.Posts = append(b.Posts, post)
	}
	return b, nil
}

func (c *Client) FetchNotifications(ctx context.Context, pubky string, limit int) ([]models.Notification, error) {
	const op = "fetch_notifications"

	u := fmt.Sprintf("%s/v0/user/%s/notifications?limit=%d", c.baseURL, url.PathEscape(pubky), limit)
	var dtos []notificationDTO
	if err := c.getJSON(ctx, op, u, &dtos); err != nil {
		return nil, err
	}

	out := make([]models.Notification, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, models.Notification{
			ID:        d.ID,
			Type:      d.Type,
			Pubky:     pubky,
			Sender:    d.Sender,
			PostID:    d.PostID,
			Body:      []byte(d.Body),
			Timestamp: d.Timestamp,
		})
	}
	return out, nil
}

func (c *Client) FetchStreamPage(ctx context.Context, req PageRequest) (*Page, error) {
	const op = "fetch_stream_page"

	q := url.Values{}
	q.Set("limit", strconv.Itoa(req.Limit))
	switch req.StreamID.CursorKind() {
	case models.CursorSkipCount:
		if req.Cursor.Skip > 0 {
			q.Set("skip", strconv.Itoa(req.Cursor.Skip))
		}
	default:
		if req.Cursor.Timestamp > 0 {
			q.Set("end", strconv.FormatInt(req.Cursor.Timestamp, 10))
		}
		if req.LastPostID != "" {
			q.Set("last_post_id", req.LastPostID)
		}
	}

	u := fmt.Sprintf("%s/v0/stream/%s?%s", c.baseURL, url.PathEscape(string(req.StreamID)), q.Encode())
	var page Page
	if err := c.getJSON(ctx, op, u, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) FetchUser(ctx context.Context, pubky string) (*models.User, error) {
	const op = "fetch_user"

	var dto userDTO
	if err := c.getJSON(ctx, op, c.baseURL+"/v0/user/"+url.PathEscape(pubky), &dto); err != nil {
		return nil, err
	}
	user := dto.toModel()
	if user.ID == "" {
		user.ID = pubky
	}
	return &user, nil
}

// getJSON performs a GET with policy-driven retries and decodes the body
// into out. Every failure crosses back classified.
func (c *Client) getJSON(ctx context.Context, op, rawURL string, out any) error {
	err := apperr.Do(ctx, c.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return c.errs.New(apperr.CategoryValidation, apperr.CodeInvalidInput, op, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return c.errs.FromTransport(op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return c.errs.FromHTTPStatus(resp.StatusCode, op, fmt.Errorf("GET %s", rawURL))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return c.errs.New(apperr.CategoryServer, apperr.CodeInvalidResponse, op, err)
		}
		return nil
	})

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	c.reqs.Record(serviceName, op, outcome)
	return err
}
