package server

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"library-lending/library"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// fail writes err, treating request-shape errors as 400.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadRequest) {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeDomainError(w, r, err)
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid id %q", raw)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

func queryBool(r *http.Request, name string) (*bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, badRequest("invalid %s %q", name, raw)
	}
	return &v, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return v, nil
}

func (s *Server) page(r *http.Request) (library.Page, error) {
	number, err := queryInt(r, "page", 1)
	if err != nil {
		return library.Page{}, err
	}
	size, err := queryInt(r, "pageSize", s.opts.DefaultPageSize)
	if err != nil {
		return library.Page{}, err
	}
	if number < 1 {
		return library.Page{}, badRequest("page must be >= 1")
	}
	if size < 1 || size > s.opts.MaxPageSize {
		return library.Page{}, badRequest("pageSize must be between 1 and %d", s.opts.MaxPageSize)
	}
	if number > math.MaxInt/size {
		return library.Page{}, badRequest("page %d is out of range", number)
	}
	return library.Page{Number: number, Size: size}, nil
}

// decode reads a JSON body into dst. An empty body is allowed when optional
// is set.
func decode(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("invalid json: %v", err)
	}
	return nil
}
