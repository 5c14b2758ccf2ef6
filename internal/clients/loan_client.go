// internal/clients/loan_client.go
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

// LoanClient talks to the loans service through its own Gate. It implements
// books.LoanService and users.LoanActivity.
type LoanClient struct {
	baseURL string
	http    *http.Client
	breaker *breaker.Breaker
}

func NewLoanClient(baseURL string, opts ...breaker.Option) *LoanClient {
	return &LoanClient{
		baseURL: baseURL,
		http:    &http.Client{},
		breaker: breaker.New("loan-service", opts...),
	}
}

// ActiveLoansForBook asks whether a book is still lent out. Consumed by book
// deletion.
func (c *LoanClient) ActiveLoansForBook(ctx context.Context, bookID uuid.UUID) (*loans.ActiveLoanCheck, error) {
	var check loans.ActiveLoanCheck
	path := fmt.Sprintf("/loans/book/%s/active", bookID)
	if err := c.getJSON(ctx, path, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// PopularBooks fetches the raw popularity aggregate.
func (c *LoanClient) PopularBooks(ctx context.Context) ([]loans.BookActivity, error) {
	var result []loans.BookActivity
	if err := c.getJSON(ctx, "/loans/stats/popular", &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ActiveUsers fetches the raw activity aggregate.
func (c *LoanClient) ActiveUsers(ctx context.Context) ([]loans.UserActivity, error) {
	var result []loans.UserActivity
	if err := c.getJSON(ctx, "/loans/stats/active-users", &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *LoanClient) getJSON(ctx context.Context, path string, out any) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
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
		return json.NewDecoder(resp.Body).Decode(out)
	})
}
