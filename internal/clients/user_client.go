// internal/clients/user_client.go
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"librelend/internal/breaker"
	"librelend/internal/loans"
)

// UserClient talks to the users service through its own Gate. It implements
// loans.UserDirectory.
type UserClient struct {
	baseURL string
	http    *http.Client
	breaker *breaker.Breaker
}

func NewUserClient(baseURL string, opts ...breaker.Option) *UserClient {
	return &UserClient{
		baseURL: baseURL,
		http:    &http.Client{},
		breaker: breaker.New("user-service", opts...),
	}
}

// GetUser looks a user up by id. A remote 404 is a successful call: it maps
// to loans.ErrUserNotFound without counting against the breaker.
func (c *UserClient) GetUser(ctx context.Context, id uuid.UUID) (*loans.User, error) {
	var user loans.User
	var notFound bool

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/users/%s", c.baseURL, id), nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			return json.NewDecoder(resp.Body).Decode(&user)
		case http.StatusNotFound:
			notFound = true
			return nil
		default:
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, loans.ErrUserNotFound
	}
	return &user, nil
}

// CountUsers fetches the registry size for the system overview.
func (c *UserClient) CountUsers(ctx context.Context) (int, error) {
	var payload struct {
		Count int `json:"count"`
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/stats/count", nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&payload)
	})
	if err != nil {
		return 0, err
	}
	return payload.Count, nil
}
