// Package httpmsg is the minimal HTTP/1.0 text layer carried over a reliable
// UDP connection: request builders for the client, a request parser and a
// file-serving handler for the server.
package httpmsg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("rudp/httpmsg")

const crlf = "\r\n"

// ErrMalformedRequest is returned for a request line that is not "METHOD PATH VERSION".
var ErrMalformedRequest = errors.New("malformed request line")

// Request is a parsed request.
type Request struct {
	Method string
	Path   string
	Body   string
}

// BuildGetRequest returns a GET request for path.
func BuildGetRequest(path, host string) string {
	return strings.Join([]string{
		"GET " + path + " HTTP/1.0",
		"Host: " + host,
		"", // end of headers
		"",
	}, crlf)
}

// BuildPostRequest returns a POST request carrying body.
func BuildPostRequest(path, host, body string) string {
	return strings.Join([]string{
		"POST " + path + " HTTP/1.0",
		"Host: " + host,
		"Content-Length: " + strconv.Itoa(len(body)),
		"",
		body,
	}, crlf)
}

// ParseRequest splits a request into method, path and body.
func ParseRequest(text string) (*Request, error) {
	head, body, _ := strings.Cut(text, crlf+crlf)
	line, _, _ := strings.Cut(head, crlf)

	parts := strings.Fields(line)
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRequest, line)
	}
	return &Request{Method: parts[0], Path: parts[1], Body: body}, nil
}

// BuildResponse formats a response. Unknown status codes are reported as 500.
func BuildResponse(status int, body string) string {
	var statusLine string
	switch status {
	case 200:
		statusLine = "HTTP/1.0 200 OK"
	case 404:
		statusLine = "HTTP/1.0 404 Not Found"
	default:
		statusLine = "HTTP/1.0 500 Internal Server Error"
	}

	headers := []string{
		"Content-Length: " + strconv.Itoa(len(body)),
		"Content-Type: text/plain",
		"",
		"",
	}
	return statusLine + crlf + strings.Join(headers, crlf) + body
}

// FileHandler answers GET with files below Root and stores POST bodies in PostFile.
type FileHandler struct {
	Root     string
	PostFile string
}

// Serve turns one request text into one response text.
func (h *FileHandler) Serve(text string) string {
	req, err := ParseRequest(text)
	if err != nil {
		log.Warnf("bad request: %v", err)
		return BuildResponse(404, "")
	}

	switch req.Method {
	case "GET":
		return h.get(req)
	case "POST":
		return h.post(req)
	}
	log.Infof("unsupported method %s", req.Method)
	return BuildResponse(404, "")
}

func (h *FileHandler) get(req *Request) string {
	name, ok := h.resolve(req.Path)
	if !ok {
		log.Warnf("GET %s: outside document root", req.Path)
		return BuildResponse(404, "")
	}

	content, err := os.ReadFile(name)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Errorf("GET %s: %v", req.Path, err)
		}
		return BuildResponse(404, "")
	}
	log.Infof("GET %s: %d bytes", req.Path, len(content))
	return BuildResponse(200, string(content))
}

func (h *FileHandler) post(req *Request) string {
	if err := os.WriteFile(h.PostFile, []byte(req.Body), 0o644); err != nil {
		log.Errorf("POST %s: %v", req.Path, err)
		return BuildResponse(500, "Error")
	}
	log.Infof("POST %s: body saved to %s", req.Path, h.PostFile)
	return BuildResponse(200, "POST received")
}

// resolve maps a request path to a file inside Root.
func (h *FileHandler) resolve(path string) (string, bool) {
	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(path, "/")))
	if rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.Join(h.Root, rel), true
}
