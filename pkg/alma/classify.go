package alma

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// XML element names in Alma error bodies.
const (
	elemError        = "error"
	elemErrorCode    = "errorCode"
	elemErrorMessage = "errorMessage"
	elemTrackingID   = "trackingId"
)

// classifyErrorResponse turns a 4xx/5xx response into an APIErrors value, or
// a ProtocolError when the error body cannot be decoded as either of the two
// formats Alma uses. It never swallows the failure: every error response
// yields at least one error. A declared error body from which no error group
// can be extracted carries no recoverable detail and is itself treated as a
// classification failure.
func classifyErrorResponse(resp *http.Response) error {
	contentType := resp.Header.Get("Content-Type")
	mediaType := contentType
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.TrimSpace(mediaType)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProtocolError{StatusCode: resp.StatusCode, ContentType: contentType, Err: err}
	}

	switch mediaType {
	case "application/xml":
		errs, err := decodeXMLErrors(resp.StatusCode, body)
		if err != nil || len(errs) == 0 {
			return &ProtocolError{StatusCode: resp.StatusCode, ContentType: contentType, Err: err}
		}
		return errs
	case "application/json":
		errs, err := decodeJSONErrors(resp.StatusCode, body)
		if err != nil || len(errs) == 0 {
			return &ProtocolError{StatusCode: resp.StatusCode, ContentType: contentType, Err: err}
		}
		return errs
	default:
		return &ProtocolError{StatusCode: resp.StatusCode, ContentType: contentType}
	}
}

// decodeXMLErrors stream-parses an XML error body. Every <error> start
// element opens a new error group; <errorCode>, <errorMessage> and
// <trackingId> elements fill the most recently opened group. Detail elements
// seen before any group boundary are ignored.
func decodeXMLErrors(status int, body []byte) (APIErrors, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var errs APIErrors

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return errs, nil
		}
		if err != nil {
			return nil, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case elemError:
			errs = append(errs, &APIError{StatusCode: status})
		case elemErrorCode, elemErrorMessage, elemTrackingID:
			if len(errs) == 0 {
				continue
			}
			var text string
			if err := dec.DecodeElement(&text, &start); err != nil {
				return nil, fmt.Errorf("read <%s> text: %w", start.Name.Local, err)
			}
			last := errs[len(errs)-1]
			switch start.Name.Local {
			case elemErrorCode:
				last.Code = text
			case elemErrorMessage:
				last.Message = text
			case elemTrackingID:
				last.TrackingID = text
			}
		}
	}
}

type jsonAPIError struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	TrackingID   string `json:"trackingId"`
}

func (e jsonAPIError) toAPIError(status int) *APIError {
	return &APIError{
		StatusCode: status,
		Code:       e.ErrorCode,
		Message:    e.ErrorMessage,
		TrackingID: e.TrackingID,
	}
}

// decodeJSONErrors parses a JSON error body: an errorList object whose
// values are error objects, or arrays of error objects, each carrying
// errorCode/errorMessage/trackingId.
func decodeJSONErrors(status int, body []byte) (APIErrors, error) {
	var payload struct {
		ErrorList map[string]json.RawMessage `json:"errorList"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if payload.ErrorList == nil {
		return nil, fmt.Errorf("no errorList object in body")
	}

	var errs APIErrors
	for _, raw := range payload.ErrorList {
		var many []jsonAPIError
		if err := json.Unmarshal(raw, &many); err == nil {
			for _, e := range many {
				errs = append(errs, e.toAPIError(status))
			}
			continue
		}
		var single jsonAPIError
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("decode errorList entry: %w", err)
		}
		errs = append(errs, single.toAPIError(status))
	}
	return errs, nil
}
