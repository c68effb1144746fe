package handlers

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/eval-hub/model-arena/internal/constants"
	"github.com/eval-hub/model-arena/internal/executioncontext"
	"github.com/eval-hub/model-arena/internal/http_wrappers"
	"github.com/eval-hub/model-arena/internal/messages"
	"github.com/eval-hub/model-arena/internal/serviceerrors"
	"github.com/eval-hub/model-arena/pkg/api"
)

func CreatePage(total int, offset int, limit int, ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper) (*api.Page, error) {
	hasNext := offset+limit < total
	var nextHref *api.HRef
	if hasNext {
		href, err := url.Parse(r.URI())
		if err != nil {
			ctx.Logger.Error("Failed to parse request URI", "uri", r.URI(), "error", err)
			return nil, serviceerrors.NewServiceError(messages.InternalServerError, "Error", err.Error())
		}
		q := href.Query()
		q.Set(constants.QUERY_PARAMETER_OFFSET, strconv.Itoa(offset+limit))
		href.RawQuery = q.Encode()
		nextHref = &api.HRef{Href: href.String()}
	}

	return &api.Page{
		First:      &api.HRef{Href: r.URI()},
		Next:       nextHref,
		Limit:      limit,
		TotalCount: total,
	}, nil
}

// getPathParameter returns a required path parameter.
func getPathParameter(r http_wrappers.RequestWrapper, name string) (string, error) {
	value := strings.TrimSpace(r.PathValue(name))
	if value == "" {
		return "", serviceerrors.NewServiceError(messages.MissingPathParameter, "ParameterName", name)
	}
	return value, nil
}

// getQueryParameter returns the first value of a query parameter, empty when absent.
func getQueryParameter(r http_wrappers.RequestWrapper, name string) string {
	values := r.Query(name)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func getIntQueryParameter(r http_wrappers.RequestWrapper, name string, defaultValue int, minValue int, maxValue int) (int, error) {
	raw := getQueryParameter(r, name)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < minValue || value > maxValue {
		return 0, serviceerrors.NewServiceError(messages.QueryParameterInvalid, "ParameterName", name, "Type", "integer in range", "Value", raw)
	}
	return value, nil
}

// getCursor reads the replay cursor. The Last-Event-ID header sent by reconnecting
// event stream clients wins over the since query parameter.
func getCursor(r http_wrappers.RequestWrapper) (uint64, error) {
	if raw := strings.TrimSpace(r.Header(constants.HEADER_LAST_EVENT_ID)); raw != "" {
		cursor, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, serviceerrors.NewServiceError(messages.HeaderInvalid, "Header", constants.HEADER_LAST_EVENT_ID, "Type", "sequence number", "Value", raw)
		}
		return cursor, nil
	}
	raw := getQueryParameter(r, constants.QUERY_PARAMETER_SINCE)
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, serviceerrors.NewServiceError(messages.QueryParameterInvalid, "ParameterName", constants.QUERY_PARAMETER_SINCE, "Type", "sequence number", "Value", raw)
	}
	return cursor, nil
}
