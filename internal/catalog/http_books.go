package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"resty.dev/v3"
)

// HTTPBookProvider fetches book metadata from a remote catalog service.
//
//	GET {base}/books/{id}       -> Book
//	GET {base}/books?ids=a,b,c  -> {"books": [Book, ...]}
type HTTPBookProvider struct {
	httpClient       *resty.Client
	maxRetryAttempts uint
	retryDelay       time.Duration
}

func NewHTTPBookProvider(baseURL string, retryAttempts uint, retryDelay time.Duration) *HTTPBookProvider {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(baseURL, "/"))
	client.SetHeader("Accept", "application/json")
	client.SetTimeout(5 * time.Second)

	return &HTTPBookProvider{
		httpClient:       client,
		maxRetryAttempts: retryAttempts,
		retryDelay:       retryDelay,
	}
}

func (p *HTTPBookProvider) Close() error {
	return p.httpClient.Close()
}

type booksResponse struct {
	Books []Book `json:"books"`
}

func (p *HTTPBookProvider) Book(ctx context.Context, bookID string) (Book, error) {
	var book Book
	err := p.do(ctx, func() error {
		response, err := p.httpClient.R().
			SetContext(ctx).
			SetPathParam("id", bookID).
			SetResult(&Book{}).
			Get("/books/{id}")
		if err != nil {
			return fmt.Errorf("httpClient.Get(/books/%s) > %w", bookID, err)
		}
		if response.StatusCode() == http.StatusNotFound {
			return retry.Unrecoverable(fmt.Errorf("book %q: %w", bookID, ErrNotFound))
		}
		if response.IsError() {
			return statusError(response)
		}
		book = *response.Result().(*Book)
		return nil
	})
	if err != nil {
		return Book{}, err
	}
	return book, nil
}

func (p *HTTPBookProvider) Books(ctx context.Context, bookIDs []string) (map[string]Book, error) {
	result := make(map[string]Book, len(bookIDs))
	if len(bookIDs) == 0 {
		return result, nil
	}

	err := p.do(ctx, func() error {
		response, err := p.httpClient.R().
			SetContext(ctx).
			SetQueryParam("ids", strings.Join(bookIDs, ",")).
			SetResult(&booksResponse{}).
			Get("/books")
		if err != nil {
			return fmt.Errorf("httpClient.Get(/books) > %w", err)
		}
		if response.IsError() {
			return statusError(response)
		}
		for _, book := range response.Result().(*booksResponse).Books {
			result[book.ID] = book
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *HTTPBookProvider) do(ctx context.Context, fn func() error) error {
	jitter := p.retryDelay
	if jitter <= 0 {
		jitter = time.Millisecond
	}
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(p.maxRetryAttempts+1),
		retry.Delay(p.retryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(jitter),
		retry.LastErrorOnly(true),
	)
}

func statusError(response *resty.Response) error {
	err := fmt.Errorf("response error %d: %s", response.StatusCode(), response.String())
	if response.StatusCode() >= http.StatusInternalServerError || response.StatusCode() == http.StatusTooManyRequests {
		return err
	}
	return retry.Unrecoverable(err)
}
