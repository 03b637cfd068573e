//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoSquash.
//
// GoSquash is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoSquash is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoSquash. If not, see https://www.gnu.org/licenses/.

package readers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/gosquash/core"
)

// This file implements a paginated HTTP reader for pulling revision feeds
// from REST APIs. Pages arrive in feed order; a feed that pages backward
// through history cannot be squashed without reordering first.

// HTTPReaderError provides structured error information for HTTP reader operations
type HTTPReaderError struct {
	Op         string // Operation that failed (e.g., "request", "auth", "parse")
	StatusCode int    // HTTP status code if applicable
	URL        string // URL being accessed when error occurred
	Err        error  // Underlying error
}

func (e *HTTPReaderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("http reader %s [%d] %s: %v", e.Op, e.StatusCode, e.URL, e.Err)
	}
	return fmt.Sprintf("http reader %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *HTTPReaderError) Unwrap() error {
	return e.Err
}

// HTTPReaderStats holds statistics about the HTTP reader's progress
type HTTPReaderStats struct {
	RequestCount      int64            // Total HTTP requests made
	RecordsRead       int64            // Total records read
	BytesRead         int64            // Total response bytes read
	ReadDuration      time.Duration    // Total time spent reading
	TotalResponseTime time.Duration    // Cumulative server response time
	LastReadTime      time.Time        // Time of last read
	RetryCount        int64            // Number of retries performed
	RateLimitHits     int64            // Number of 429 responses
	NullValueCounts   map[string]int64 // Count of null values per field
}

// AuthConfig defines authentication configuration
type AuthConfig struct {
	Type          string            // "bearer", "basic", "apikey", "custom"
	Token         string            // Bearer token
	Username      string            // For basic auth
	Password      string            // For basic auth
	HeaderName    string            // Header name for API key
	HeaderValue   string            // Header value for API key
	QueryParam    string            // Query parameter name for API key
	CustomHeaders map[string]string // Additional custom headers
}

// PaginationConfig defines pagination behavior
type PaginationConfig struct {
	Type         string // "offset", "cursor", "page", "none"
	LimitParam   string // Parameter name for limit/page size
	OffsetParam  string // Parameter name for offset
	PageParam    string // Parameter name for page number
	CursorParam  string // Parameter name for cursor
	PageSize     int    // Number of records per page
	MaxPages     int    // Maximum pages to fetch (0 = unlimited)
	NextURLField string // JSON field containing next page URL
	CursorField  string // JSON field containing next cursor
	TotalField   string // JSON field containing total count
	HasMoreField string // JSON field indicating more data available
}

// HTTPReaderOptions configures the HTTP reader
type HTTPReaderOptions struct {
	Method           string            // HTTP method (default: GET)
	Headers          map[string]string // Additional headers
	QueryParams      map[string]string // Query parameters
	Body             []byte            // Request body for POST/PUT, replayed per request
	Auth             *AuthConfig       // Authentication configuration
	Pagination       *PaginationConfig // Pagination configuration
	Timeout          time.Duration     // Request timeout
	RetryAttempts    int               // Number of retry attempts
	RetryDelay       time.Duration     // Base delay between retries
	RateLimit        time.Duration     // Minimum time between requests
	ResponseFormat   string            // "json", "jsonl", "csv"
	DataPath         string            // Dotted JSON path to the data array
	MaxResponseSize  int64             // Maximum response size in bytes
	FollowRedirects  bool              // Follow HTTP redirects
	ValidStatusCodes []int             // Accepted HTTP status codes
	UserAgent        string            // User agent string
	CustomClient     *http.Client      // Custom HTTP client
}

// ReaderOptionHTTP is a functional option for HTTPReaderOptions
type ReaderOptionHTTP func(*HTTPReaderOptions)

func WithHTTPMethod(method string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Method = method
	}
}

func WithHTTPHeaders(headers map[string]string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		if opts.Headers == nil {
			opts.Headers = make(map[string]string)
		}
		for k, v := range headers {
			opts.Headers[k] = v
		}
	}
}

func WithHTTPQueryParams(params map[string]string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		if opts.QueryParams == nil {
			opts.QueryParams = make(map[string]string)
		}
		for k, v := range params {
			opts.QueryParams[k] = v
		}
	}
}

func WithHTTPBody(body []byte) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Body = body
	}
}

func WithHTTPAuth(auth *AuthConfig) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Auth = auth
	}
}

func WithHTTPBearerToken(token string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Auth = &AuthConfig{Type: "bearer", Token: token}
	}
}

func WithHTTPBasicAuth(username, password string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Auth = &AuthConfig{Type: "basic", Username: username, Password: password}
	}
}

func WithHTTPAPIKey(headerName, apiKey string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Auth = &AuthConfig{Type: "apikey", HeaderName: headerName, HeaderValue: apiKey}
	}
}

func WithHTTPPagination(pagination *PaginationConfig) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Pagination = pagination
	}
}

func WithHTTPTimeout(timeout time.Duration) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Timeout = timeout
	}
}

func WithHTTPRetries(attempts int, delay time.Duration) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.RetryAttempts = attempts
		opts.RetryDelay = delay
	}
}

func WithHTTPRateLimit(delay time.Duration) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.RateLimit = delay
	}
}

func WithHTTPResponseFormat(format string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.ResponseFormat = format
	}
}

func WithHTTPDataPath(path string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.DataPath = path
	}
}

func WithHTTPUserAgent(userAgent string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.UserAgent = userAgent
	}
}

func WithHTTPClient(client *http.Client) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.CustomClient = client
	}
}

// HTTPReader implements core.DataSource for HTTP APIs
type HTTPReader struct {
	baseURL         string
	client          *http.Client
	opts            *HTTPReaderOptions
	stats           HTTPReaderStats
	currentData     []core.Record
	currentIndex    int
	hasMoreData     bool
	nextURL         string
	nextCursor      string
	currentPage     int
	lastRequestTime time.Time
}

// NewHTTPReader creates a new HTTP API reader with configurable options
func NewHTTPReader(endpoint string, options ...ReaderOptionHTTP) (*HTTPReader, error) {
	opts := &HTTPReaderOptions{
		Method:           "GET",
		Headers:          make(map[string]string),
		QueryParams:      make(map[string]string),
		Timeout:          30 * time.Second,
		RetryAttempts:    3,
		RetryDelay:       time.Second,
		ResponseFormat:   "json",
		MaxResponseSize:  100 * 1024 * 1024, // 100MB
		FollowRedirects:  true,
		ValidStatusCodes: []int{200, 201, 202},
		UserAgent:        "GoSquash-HTTPReader/1.0",
	}

	for _, option := range options {
		option(opts)
	}

	client := opts.CustomClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
		if !opts.FollowRedirects {
			client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			}
		}
	}

	return &HTTPReader{
		baseURL:     endpoint,
		client:      client,
		opts:        opts,
		stats:       HTTPReaderStats{NullValueCounts: make(map[string]int64)},
		hasMoreData: true,
		currentPage: 1,
	}, nil
}

// Read implements the core.DataSource interface
func (hr *HTTPReader) Read(ctx context.Context) (core.Record, error) {
	start := time.Now()
	defer func() {
		hr.stats.ReadDuration += time.Since(start)
		hr.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return nil, &HTTPReaderError{Op: "read", URL: hr.baseURL, Err: ctx.Err()}
	default:
	}

	for hr.currentIndex >= len(hr.currentData) {
		if !hr.hasMoreData {
			return nil, io.EOF
		}
		if err := hr.loadNextBatch(ctx); err != nil {
			return nil, err
		}
		hr.currentIndex = 0
	}

	record := hr.currentData[hr.currentIndex]
	hr.currentIndex++
	hr.stats.RecordsRead++

	for key, val := range record {
		if val == nil {
			hr.stats.NullValueCounts[key]++
		}
	}

	return record, nil
}

// Close implements the core.DataSource interface
func (hr *HTTPReader) Close() error {
	return nil
}

// Stats returns HTTP reader statistics
func (hr *HTTPReader) Stats() HTTPReaderStats {
	return hr.stats
}

// loadNextBatch fetches the next page of data from the API
func (hr *HTTPReader) loadNextBatch(ctx context.Context) error {
	if hr.opts.RateLimit > 0 {
		elapsed := time.Since(hr.lastRequestTime)
		if elapsed < hr.opts.RateLimit {
			select {
			case <-time.After(hr.opts.RateLimit - elapsed):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	requestURL, err := hr.buildRequestURL()
	if err != nil {
		return &HTTPReaderError{Op: "build_url", URL: hr.baseURL, Err: err}
	}

	data, err := hr.executeRequestWithRetry(ctx, requestURL)
	if err != nil {
		return err
	}

	hr.lastRequestTime = time.Now()
	hr.stats.RequestCount++

	records, err := hr.parseResponse(data)
	if err != nil {
		return &HTTPReaderError{Op: "parse", URL: requestURL, Err: err}
	}

	hr.currentData = records
	hr.updatePaginationState(data)
	return nil
}

// buildRequestURL assembles the URL for the current request, query
// parameters properly escaped
func (hr *HTTPReader) buildRequestURL() (string, error) {
	if hr.nextURL != "" {
		return hr.nextURL, nil
	}

	u, err := url.Parse(hr.baseURL)
	if err != nil {
		return "", err
	}

	query := u.Query()
	for k, v := range hr.opts.QueryParams {
		query.Set(k, v)
	}

	if pg := hr.opts.Pagination; pg != nil {
		switch pg.Type {
		case "offset":
			if pg.LimitParam != "" {
				query.Set(pg.LimitParam, strconv.Itoa(pg.PageSize))
			}
			if pg.OffsetParam != "" {
				query.Set(pg.OffsetParam, strconv.Itoa((hr.currentPage-1)*pg.PageSize))
			}
		case "page":
			if pg.LimitParam != "" {
				query.Set(pg.LimitParam, strconv.Itoa(pg.PageSize))
			}
			if pg.PageParam != "" {
				query.Set(pg.PageParam, strconv.Itoa(hr.currentPage))
			}
		case "cursor":
			if pg.LimitParam != "" {
				query.Set(pg.LimitParam, strconv.Itoa(pg.PageSize))
			}
			if pg.CursorParam != "" && hr.nextCursor != "" {
				query.Set(pg.CursorParam, hr.nextCursor)
			}
		}
	}

	u.RawQuery = query.Encode()
	return u.String(), nil
}

// executeRequestWithRetry executes an HTTP request with exponential backoff.
// 429 and 5xx responses are retried; other client errors are not.
func (hr *HTTPReader) executeRequestWithRetry(ctx context.Context, requestURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= hr.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := hr.opts.RetryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			hr.stats.RetryCount++
		}

		data, err := hr.executeRequest(ctx, requestURL)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if httpErr, ok := err.(*HTTPReaderError); ok {
			if httpErr.StatusCode == 429 {
				hr.stats.RateLimitHits++
				continue
			}
			if httpErr.StatusCode >= 500 {
				continue
			}
			if httpErr.StatusCode > 0 {
				break
			}
		}
	}

	return nil, lastErr
}

// executeRequest executes a single HTTP request
func (hr *HTTPReader) executeRequest(ctx context.Context, requestURL string) ([]byte, error) {
	var body io.Reader
	if len(hr.opts.Body) > 0 {
		body = bytes.NewReader(hr.opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, hr.opts.Method, requestURL, body)
	if err != nil {
		return nil, &HTTPReaderError{Op: "create_request", URL: requestURL, Err: err}
	}

	req.Header.Set("User-Agent", hr.opts.UserAgent)
	for k, v := range hr.opts.Headers {
		req.Header.Set(k, v)
	}

	if hr.opts.Auth != nil {
		if err := hr.addAuthentication(req); err != nil {
			return nil, &HTTPReaderError{Op: "auth", URL: requestURL, Err: err}
		}
	}

	requestStart := time.Now()
	resp, err := hr.client.Do(req)
	if err != nil {
		return nil, &HTTPReaderError{Op: "request", URL: requestURL, Err: err}
	}
	defer resp.Body.Close()

	hr.stats.TotalResponseTime += time.Since(requestStart)

	if !hr.isValidStatusCode(resp.StatusCode) {
		return nil, &HTTPReaderError{
			Op:         "status_check",
			URL:        requestURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	reader := io.LimitReader(resp.Body, hr.opts.MaxResponseSize)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &HTTPReaderError{Op: "read_response", URL: requestURL, Err: err}
	}

	hr.stats.BytesRead += int64(len(data))
	return data, nil
}

// addAuthentication adds credentials to the request
func (hr *HTTPReader) addAuthentication(req *http.Request) error {
	auth := hr.opts.Auth
	switch auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "apikey":
		if auth.HeaderName != "" {
			req.Header.Set(auth.HeaderName, auth.HeaderValue)
		}
		if auth.QueryParam != "" {
			q := req.URL.Query()
			q.Set(auth.QueryParam, auth.HeaderValue)
			req.URL.RawQuery = q.Encode()
		}
	case "custom":
		for k, v := range auth.CustomHeaders {
			req.Header.Set(k, v)
		}
	default:
		return fmt.Errorf("unsupported auth type: %s", auth.Type)
	}
	return nil
}

// parseResponse parses the response body per the configured format
func (hr *HTTPReader) parseResponse(data []byte) ([]core.Record, error) {
	switch hr.opts.ResponseFormat {
	case "json":
		return hr.parseJSONResponse(data)
	case "jsonl":
		return hr.parseJSONLResponse(data)
	case "csv":
		return hr.parseCSVResponse(data)
	default:
		return nil, fmt.Errorf("unsupported response format: %s", hr.opts.ResponseFormat)
	}
}

func (hr *HTTPReader) parseJSONResponse(data []byte) ([]core.Record, error) {
	var response interface{}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %w", err)
	}

	if hr.opts.DataPath != "" {
		extracted, err := extractDataFromPath(response, hr.opts.DataPath)
		if err != nil {
			return nil, fmt.Errorf("data path extraction failed: %w", err)
		}
		response = extracted
	}

	return convertToRecords(response)
}

func (hr *HTTPReader) parseJSONLResponse(data []byte) ([]core.Record, error) {
	var records []core.Record
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var record core.Record
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("jsonl parse error: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (hr *HTTPReader) parseCSVResponse(data []byte) ([]core.Record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv parse error: %w", err)
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("empty CSV response")
	}

	headers := rows[0]
	var records []core.Record
	for _, row := range rows[1:] {
		record := make(core.Record, len(headers))
		for j, header := range headers {
			if j < len(row) {
				record[strings.TrimSpace(header)] = row[j]
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// extractDataFromPath walks a dotted path through nested JSON objects
func extractDataFromPath(data interface{}, path string) (interface{}, error) {
	current := data
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("cannot traverse path %s: expected object", part)
		}
		current, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("path element %s not found", part)
		}
	}
	return current, nil
}

// convertToRecords converts decoded JSON into records
func convertToRecords(data interface{}) ([]core.Record, error) {
	switch v := data.(type) {
	case []interface{}:
		var records []core.Record
		for _, item := range v {
			if record, ok := item.(map[string]interface{}); ok {
				records = append(records, core.Record(record))
			}
		}
		return records, nil
	case map[string]interface{}:
		return []core.Record{core.Record(v)}, nil
	default:
		return nil, fmt.Errorf("unexpected response format: %T", data)
	}
}

// updatePaginationState inspects the response to decide whether another
// page follows and how to request it
func (hr *HTTPReader) updatePaginationState(data []byte) {
	pg := hr.opts.Pagination
	if pg == nil {
		hr.hasMoreData = false
		return
	}

	if pg.MaxPages > 0 && hr.currentPage >= pg.MaxPages {
		hr.hasMoreData = false
		return
	}

	var response map[string]interface{}
	if err := json.Unmarshal(data, &response); err != nil {
		hr.hasMoreData = false
		return
	}

	switch pg.Type {
	case "cursor":
		if pg.CursorField != "" {
			if cursor, ok := response[pg.CursorField].(string); ok {
				hr.nextCursor = cursor
				hr.hasMoreData = cursor != ""
			} else {
				hr.hasMoreData = false
			}
		}
	case "offset", "page":
		hr.currentPage++
		if pg.HasMoreField != "" {
			hasMore, ok := response[pg.HasMoreField].(bool)
			hr.hasMoreData = ok && hasMore
		} else if pg.TotalField != "" {
			if total, ok := response[pg.TotalField].(float64); ok {
				processed := (hr.currentPage - 1) * pg.PageSize
				hr.hasMoreData = processed < int(total)
			} else {
				hr.hasMoreData = false
			}
		} else {
			// Full page suggests another may follow
			hr.hasMoreData = len(hr.currentData) >= pg.PageSize
		}
	case "none":
		hr.hasMoreData = false
	default:
		hr.hasMoreData = false
	}

	if pg.NextURLField != "" {
		if nextURL, ok := response[pg.NextURLField].(string); ok {
			hr.nextURL = nextURL
			hr.hasMoreData = nextURL != ""
		}
	}
}

// isValidStatusCode checks the status code against the accepted set
func (hr *HTTPReader) isValidStatusCode(statusCode int) bool {
	for _, validCode := range hr.opts.ValidStatusCodes {
		if statusCode == validCode {
			return true
		}
	}
	return false
}

// NewPaginatedHTTPReader creates an HTTP reader with pagination support
func NewPaginatedHTTPReader(endpoint string, pageSize int, paginationType string) (*HTTPReader, error) {
	pagination := &PaginationConfig{
		Type:        paginationType,
		PageSize:    pageSize,
		LimitParam:  "limit",
		OffsetParam: "offset",
		PageParam:   "page",
	}
	return NewHTTPReader(endpoint, WithHTTPPagination(pagination))
}

// NewAuthenticatedHTTPReader creates an HTTP reader with bearer token authentication
func NewAuthenticatedHTTPReader(endpoint, token string) (*HTTPReader, error) {
	return NewHTTPReader(endpoint, WithHTTPBearerToken(token))
}
