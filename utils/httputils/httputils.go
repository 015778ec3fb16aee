// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

// Package httputils provides the round trippers shared by the outbound HTTP clients.
package httputils

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"regexp"
	"strings"
	"time"
)

/////////////////////////////////////////
/// RountTrippers

// LoggingRoundTripper adds a very primitive logging to a http transaction.
type LoggingRoundTripper struct {
	Transport http.RoundTripper
	Writer    io.Writer
	DumpBody  bool
}

var (
	authorizationLine = regexp.MustCompile(`(?i)^(authorization:\s*\S+)\s+.*$`)
	apiKeyParam       = regexp.MustCompile(`([?&]key=)[^&\s]+`)
)

// redact hides credentials from a dumped line.
func redact(line string) string {
	line = authorizationLine.ReplaceAllString(line, "$1 ***")

	return apiKeyParam.ReplaceAllString(line, "${1}***")
}

// reduce the content of the lines.
func abbreviate(lines []string, prefix rune) []string {
	const maxLines, maxChars = 2048, 512

	for i, line := range lines {
		if i < maxLines {
			lines[i] = fmt.Sprintf("%c %s", prefix, redact(line))
		} else {
			break
		}
	}

	if len(lines) > maxLines {
		lines = lines[:maxLines]
		lines = append(lines, "…")
	}

	for i, line := range lines {
		if len(line) > maxChars {
			lines[i] = line[0:maxChars] + "…"
		}
	}

	return lines
}

func (t *LoggingRoundTripper) dumpRequest(req *http.Request) error {
	// multipart uploads carry image bytes, never dump them
	body := t.DumpBody && !strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/")

	dump, err := httputil.DumpRequestOut(req, body)
	if err != nil {
		return fmt.Errorf("tracing HTTP request: %w", err)
	}

	lines := abbreviate(strings.Split(string(dump), "\n"), '>')
	lines = append(lines, "")
	_, err = fmt.Fprint(t.Writer, strings.Join(lines, "\n"))

	return err
}

func (t *LoggingRoundTripper) dumpResponse(resp *http.Response, duration time.Duration) error {
	dump, err := httputil.DumpResponse(resp, t.DumpBody)
	if err != nil {
		return fmt.Errorf("tracing HTTP request: %w", err)
	}

	lines := abbreviate(strings.Split(string(dump), "\n"), '<')

	_, err = fmt.Fprintf(t.Writer, "< RESPONSE: [%v]\n", duration)
	if err != nil {
		return fmt.Errorf("tracing HTTP request: %w", err)
	}

	lines = append(lines, "")
	_, err = fmt.Fprint(t.Writer, strings.Join(lines, "\n"))

	return err
}

// RoundTrip implements the http.RoundTripper interface.
func (t *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Writer == nil {
		return t.Transport.RoundTrip(req)
	}

	if err := t.dumpRequest(req); err != nil {
		return nil, err
	}

	start := time.Now()

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		fmt.Fprintf(t.Writer, "< FAILED: [%v] %v\n", time.Since(start), err)

		return nil, err
	}

	if err := t.dumpResponse(resp, time.Since(start)); err != nil {
		return nil, err
	}

	return resp, nil
}

// AppendRequestHeadersRoundTripper adds headers to the request.
type AppendRequestHeadersRoundTripper struct {
	Transport http.RoundTripper
	Headers   map[string]string
}

// RoundTrip implements the http.RoundTripper interface.
func (t *AppendRequestHeadersRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	req = req.Clone(req.Context())
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}

	return t.Transport.RoundTrip(req)
}

////////////////////////////////////////////////////

// ClientOptions configures NewClient.
type ClientOptions struct {
	// UserAgent is the User-Agent header to use in HTTP requests
	UserAgent string

	// BearerToken, when set, is sent as an Authorization header
	BearerToken string

	// Trace writes a light dump of every exchange to this writer
	Trace io.Writer

	// TraceBody includes bodies in the dump
	TraceBody bool

	// Transport is the base transport, http.DefaultTransport when nil
	Transport http.RoundTripper
}

// NewClient builds an http.Client with header injection and optional tracing.
// Timeouts are left to the request context.
func NewClient(options *ClientOptions) *http.Client {
	if options == nil {
		options = &ClientOptions{}
	}

	transport := options.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	headers := map[string]string{}
	if options.UserAgent != "" {
		headers["User-Agent"] = options.UserAgent
	}

	if options.BearerToken != "" {
		headers["Authorization"] = "Bearer " + options.BearerToken
	}

	// headers are injected before the dump so the trace shows what goes on the wire
	transport = &AppendRequestHeadersRoundTripper{
		Transport: &LoggingRoundTripper{
			Transport: transport,
			Writer:    options.Trace,
			DumpBody:  options.TraceBody,
		},
		Headers: headers,
	}

	return &http.Client{Transport: transport}
}
