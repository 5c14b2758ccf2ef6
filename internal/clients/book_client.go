// internal/clients/book_client.go
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

// BookClient talks to the books service, ledger operations included, through
// its own Gate. It implements loans.BookInventory.
type BookClient struct {
	baseURL string
	http    *http.Client
	breaker *breaker.Breaker
}

func NewBookClient(baseURL string, opts ...breaker.Option) *BookClient {
	return &BookClient{
		baseURL: baseURL,
		http:    &http.Client{},
		breaker: breaker.New("book-service", opts...),
	}
}

// GetBook looks a book up by id, mapping a remote 404 to loans.ErrBookNotFound.
func (c *BookClient) GetBook(ctx context.Context, id uuid.UUID) (*loans.Book, error) {
	var book loans.Book
	var notFound bool

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/books/%s", c.baseURL, id), nil)
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
			return json.NewDecoder(resp.Body).Decode(&book)
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
		return nil, loans.ErrBookNotFound
	}
	return &book, nil
}

// ReserveCopy decrements availability on the books service. Business
// rejections (404, 409) are successful calls as far as the Gate is concerned.
func (c *BookClient) ReserveCopy(ctx context.Context, id uuid.UUID) (int, error) {
	return c.ledgerCall(ctx, id, "reserve")
}

// ReleaseCopy increments availability on the books service.
func (c *BookClient) ReleaseCopy(ctx context.Context, id uuid.UUID) (int, error) {
	return c.ledgerCall(ctx, id, "release")
}

func (c *BookClient) ledgerCall(ctx context.Context, id uuid.UUID, op string) (int, error) {
	var payload struct {
		AvailableCopies int `json:"available_copies"`
	}
	var businessErr error

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		url := fmt.Sprintf("%s/books/%s/%s", c.baseURL, id, op)
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, nil)
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
			return json.NewDecoder(resp.Body).Decode(&payload)
		case http.StatusNotFound:
			businessErr = loans.ErrBookNotFound
			return nil
		case http.StatusConflict:
			businessErr = loans.ErrNoCopiesAvailable
			return nil
		default:
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
	})
	if err != nil {
		return 0, err
	}
	if businessErr != nil {
		return 0, businessErr
	}
	return payload.AvailableCopies, nil
}

// CountBooks fetches the catalog size for the system overview.
func (c *BookClient) CountBooks(ctx context.Context) (int, error) {
	var payload struct {
		Count int `json:"count"`
	}
	if err := c.getJSON(ctx, "/books/stats/count", &payload); err != nil {
		return 0, err
	}
	return payload.Count, nil
}

// TotalAvailableCopies fetches catalog-wide availability.
func (c *BookClient) TotalAvailableCopies(ctx context.Context) (int, error) {
	var payload struct {
		AvailableCopies int `json:"available_copies"`
	}
	if err := c.getJSON(ctx, "/books/stats/available", &payload); err != nil {
		return 0, err
	}
	return payload.AvailableCopies, nil
}

func (c *BookClient) getJSON(ctx context.Context, path string, out any) error {
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
