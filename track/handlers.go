package track

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/hazyhaar/dhtrack/archive"
)

// HTTPError carries an explicit status through a handler. Anything else that
// escapes a handler becomes a bare 500.
type HTTPError struct {
	Status int
	Msg    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Msg)
}

// handle adapts an error-returning handler to http.HandlerFunc, mapping
// error kinds to statuses: validation → 400 with the field path as body,
// HTTPError → its status, everything else → 500 with an empty body.
func (s *Server) handle(fn func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		var verr *ValidationError
		var herr *HTTPError
		switch {
		case errors.As(err, &verr):
			s.logger.Warn("track: invalid payload",
				"path", r.URL.Path, "field", verr.Path, "request_id", getRequestID(r.Context()))
			http.Error(w, verr.Error(), http.StatusBadRequest)
		case errors.As(err, &herr):
			s.logger.Warn("track: rejected",
				"path", r.URL.Path, "status", herr.Status, "request_id", getRequestID(r.Context()))
			w.WriteHeader(herr.Status)
		case r.Context().Err() != nil:
			// Client went away; nothing to report.
		default:
			s.logger.Error("track: handler failed",
				"path", r.URL.Path, "error", err, "request_id", getRequestID(r.Context()))
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}

// decodeJSON enforces the application/json content type and parses the body.
// Both a wrong type and a malformed body map to 415: the payload is not the
// JSON document the protocol requires.
func decodeJSON(r *http.Request, dst any) error {
	ct := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
		return &HTTPError{Status: http.StatusUnsupportedMediaType, Msg: "expected application/json"}
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &HTTPError{Status: http.StatusRequestEntityTooLarge, Msg: "body too large"}
		}
		return fmt.Errorf("track: read body: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &ValidationError{Path: typeErr.Field, Msg: "wrong type, expected " + typeErr.Type.String()}
		}
		return &HTTPError{Status: http.StatusUnsupportedMediaType, Msg: "malformed JSON"}
	}
	return nil
}

func (s *Server) trackChannel(w http.ResponseWriter, r *http.Request) error {
	var payload trackChannelPayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}
	server, channel, err := payload.toEntities()
	if err != nil {
		return err
	}

	ctx := r.Context()
	if err := s.archive.Servers.Add(ctx, []archive.Server{server}); err != nil {
		return err
	}
	if err := s.archive.Channels.Add(ctx, []archive.Channel{channel}); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) trackUsers(w http.ResponseWriter, r *http.Request) error {
	var payload []userPayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}
	users, err := parseUsers(payload)
	if err != nil {
		return err
	}
	if err := s.archive.Users.Add(r.Context(), users); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

// trackMessages upserts a message batch and reports whether any submitted id
// was new: "1" when the store held fewer of the distinct ids than submitted,
// "0" otherwise. The capture script uses the flag to decide whether to keep
// scrolling back.
func (s *Server) trackMessages(w http.ResponseWriter, r *http.Request) error {
	var payload []messagePayload
	if err := decodeJSON(r, &payload); err != nil {
		return err
	}
	messages, err := parseMessages(payload)
	if err != nil {
		return err
	}

	distinct := make(map[uint64]bool, len(messages))
	ids := make([]uint64, 0, len(messages))
	for _, m := range messages {
		if !distinct[m.ID] {
			distinct[m.ID] = true
			ids = append(ids, m.ID)
		}
	}

	ctx := r.Context()
	stored, err := s.archive.Messages.CountIn(ctx, ids)
	if err != nil {
		return err
	}
	if err := s.archive.Messages.Add(ctx, messages); err != nil {
		return err
	}

	response := "0"
	if stored < int64(len(ids)) {
		response = "1"
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, err = io.WriteString(w, response)
	return err
}

func (s *Server) getAttachment(w http.ResponseWriter, r *http.Request) error {
	url := r.URL.Query().Get("url")
	if url == "" {
		return &HTTPError{Status: http.StatusBadRequest, Msg: "missing url"}
	}

	blob, contentType, err := s.archive.Downloads.GetBlob(r.Context(), url)
	if err != nil {
		return err
	}
	if blob == nil {
		return &HTTPError{Status: http.StatusNotFound, Msg: "not archived"}
	}

	if contentType != nil && *contentType != "" {
		w.Header().Set("Content-Type", *contentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(blob)
	return err
}
