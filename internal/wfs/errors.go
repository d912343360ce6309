package wfs

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/beevik/etree"

	"github.com/mohammed-shakir/wfs-query/internal/dataset"
	"github.com/mohammed-shakir/wfs-query/internal/featurestore"
	"github.com/mohammed-shakir/wfs-query/internal/filter"
	"github.com/mohammed-shakir/wfs-query/internal/projection"
	"github.com/mohammed-shakir/wfs-query/internal/query"
	"github.com/mohammed-shakir/wfs-query/internal/storedquery"
)

// OWS exception codes.
const (
	CodeInvalidParameterValue = "InvalidParameterValue"
	CodeMissingParameterValue = "MissingParameterValue"
	CodeOperationNotSupported = "OperationNotSupported"
	CodeNoApplicableCode      = "NoApplicableCode"
)

const NSOWS = "http://www.opengis.net/ows/1.1"

// OwsError is rendered as an ows:ExceptionReport.
type OwsError struct {
	Code    string
	Locator string
	Text    string
	Status  int
	Err     error
}

func (e *OwsError) Error() string {
	if e.Locator != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Locator, e.Text)
	}
	return e.Code + ": " + e.Text
}

func (e *OwsError) Unwrap() error { return e.Err }

func invalidParam(locator, format string, args ...any) *OwsError {
	return &OwsError{
		Code:    CodeInvalidParameterValue,
		Locator: locator,
		Text:    fmt.Sprintf(format, args...),
		Status:  http.StatusBadRequest,
	}
}

func missingParam(locator string) *OwsError {
	return &OwsError{
		Code:    CodeMissingParameterValue,
		Locator: locator,
		Text:    "missing parameter " + locator,
		Status:  http.StatusBadRequest,
	}
}

// classify maps an error from the query core onto an exception.
func classify(err error) *OwsError {
	var oe *OwsError
	if errors.As(err, &oe) {
		return oe
	}
	wrap := func(code, locator string, status int) *OwsError {
		return &OwsError{Code: code, Locator: locator, Text: err.Error(), Status: status, Err: err}
	}
	switch {
	case errors.Is(err, filter.ErrMalformedFilter):
		return wrap(CodeInvalidParameterValue, "query", http.StatusBadRequest)
	case errors.Is(err, storedquery.ErrUnknownStoredQuery):
		return wrap(CodeInvalidParameterValue, "storedquery_id", http.StatusBadRequest)
	case errors.Is(err, storedquery.ErrMissingParameter):
		return wrap(CodeMissingParameterValue, "", http.StatusBadRequest)
	case errors.Is(err, storedquery.ErrInvalidParameter):
		return wrap(CodeInvalidParameterValue, "", http.StatusBadRequest)
	case errors.Is(err, featurestore.ErrFeatureNotFound):
		return wrap(CodeInvalidParameterValue, "id", http.StatusNotFound)
	case errors.Is(err, projection.ErrInvalidPath):
		return wrap(CodeInvalidParameterValue, "valuereference", http.StatusBadRequest)
	case errors.Is(err, query.ErrInvalidRequest):
		return wrap(CodeInvalidParameterValue, "maxfeatures", http.StatusBadRequest)
	case errors.Is(err, dataset.ErrUnknownSource):
		return wrap(CodeInvalidParameterValue, "source", http.StatusNotFound)
	case errors.Is(err, dataset.ErrEmptyDataset):
		return wrap(CodeNoApplicableCode, "source", http.StatusNotFound)
	default:
		return wrap(CodeNoApplicableCode, "", http.StatusInternalServerError)
	}
}

func exceptionReport(e *OwsError, version string) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("ows:ExceptionReport")
	root.CreateAttr("xmlns:ows", NSOWS)
	root.CreateAttr("version", version)
	root.CreateAttr("xml:lang", "en")
	ex := root.CreateElement("ows:Exception")
	ex.CreateAttr("exceptionCode", e.Code)
	if e.Locator != "" {
		ex.CreateAttr("locator", e.Locator)
	}
	ex.CreateElement("ows:ExceptionText").SetText(e.Text)
	return doc
}
