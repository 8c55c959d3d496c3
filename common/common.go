// Package common holds small, dependency-light helpers: HTTP plumbing and
// "host:port" extraction. No other package in this module imports it; the
// discovery fetcher and prober do their own HTTP and endpoint parsing.
package common

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrNoResponse is returned when an HTTP call yields no body at all.
var ErrNoResponse = errors.New("common: no response from server")

// DefaultHTTPTimeout bounds every request issued by this package.
const DefaultHTTPTimeout = 15 * time.Second

// SendHTTPRequest issues method against urlPath with the given headers and
// body, returning the response body as a string.
func SendHTTPRequest(method, urlPath string, headers map[string]string, body io.Reader) (string, error) {
	method = strings.ToUpper(method)
	switch method {
	case http.MethodPost, http.MethodGet, http.MethodDelete, http.MethodPut:
	default:
		return "", errors.Errorf("common: invalid HTTP method %q", method)
	}

	req, err := http.NewRequest(method, urlPath, body)
	if err != nil {
		return "", errors.Wrap(err, "common: building request")
	}
	for k, v := range headers {
		req.Header.Add(k, v)
	}

	client := &http.Client{Timeout: DefaultHTTPTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "common: performing request")
	}
	defer resp.Body.Close()

	contents, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "common: reading response body")
	}
	return string(contents), nil
}

// SendHTTPGetRequest performs a GET against urlPath and unmarshals the JSON
// response into result. When jsonDecode is false the response is returned
// untouched via result, which must be a *string.
func SendHTTPGetRequest(urlPath string, jsonDecode, isVerbose bool, result any) error {
	client := &http.Client{Timeout: DefaultHTTPTimeout}
	resp, err := client.Get(urlPath)
	if err != nil {
		return errors.Wrap(err, "common: GET failed")
	}
	defer resp.Body.Close()

	contents, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "common: reading GET response")
	}
	if isVerbose {
		_ = contents // hook point for verbose request logging by callers
	}

	if !jsonDecode {
		if s, ok := result.(*string); ok {
			*s = string(contents)
			return nil
		}
		return errors.New("common: jsonDecode=false requires a *string result")
	}
	return json.Unmarshal(contents, result)
}

// JSONEncode marshals v, matching the teacher's thin wrapper around
// encoding/json used everywhere a one-line call reads better than an
// inline json.Marshal.
func JSONEncode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ExtractHost pulls the host portion out of an "ip:port" or ":port"
// address, defaulting the latter to localhost.
func ExtractHost(address string) string {
	host := strings.Split(address, ":")[0]
	if host == "" {
		return "localhost"
	}
	return host
}

// ExtractPort pulls the numeric port out of an "ip:port" address, returning
// 0 if it is missing or malformed — callers must reject a zero port per
// spec §4.4 ("Handles with zero port ... are rejected").
func ExtractPort(address string) int {
	idx := strings.LastIndex(address, ":")
	if idx == -1 || idx == len(address)-1 {
		return 0
	}
	port, err := strconv.Atoi(address[idx+1:])
	if err != nil {
		return 0
	}
	return port
}

// UnixTimestampToTime converts a float seconds-since-epoch value (as used
// by the deadline/timeout policy fields) into a time.Time.
func UnixTimestampToTime(timestamp float64) time.Time {
	sec := int64(timestamp)
	nsec := int64((timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}
