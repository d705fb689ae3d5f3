package backend

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	gschema "github.com/gorilla/schema"
	"github.com/relabs-tech/kumii/core/access"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/logger"
	"github.com/relabs-tech/kumii/core/schema"
)

var validate = newQueryValidator()

func newQueryValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name, _, _ := strings.Cut(field.Tag.Get("query"), ","); name != "" {
			return name
		}
		return field.Name
	})
	return v
}

// caller returns the authorization of the request. Every /api route is authenticated,
// so a missing authorization is a programming error.
func caller(r *http.Request) *access.Authorization {
	auth := access.AuthorizationFromContext(r.Context())
	if auth == nil {
		panic("request without authorization")
	}
	return auth
}

// pathID parses the path variable name as UUID. It writes a 400 response and
// returns false if it is not one.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		envelope.ValidationError(w, "Invalid URL parameters", []envelope.FieldError{{Field: name, Message: "Invalid uuid"}})
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody validates the request body against the schema and unmarshals it into v.
// It writes the failure response and returns false if the body is not valid.
func (b *Backend) decodeBody(w http.ResponseWriter, r *http.Request, schemaID string, v interface{}) bool {
	rlog := logger.FromContext(r.Context())
	if r.Body == nil {
		r.Body = http.NoBody
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			envelope.Error(w, http.StatusRequestEntityTooLarge, "Request entity too large")
			return false
		}
		rlog.WithError(err).Errorln("Error 4001: cannot read body")
		envelope.Error(w, http.StatusBadRequest, "Cannot read request body")
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		envelope.ValidationError(w, "Validation failed", []envelope.FieldError{{Field: "", Message: "Invalid JSON"}})
		return false
	}

	id := "https://kumii.app/schemas/" + schemaID + ".json"
	if err := b.validator.ValidateBytes(body, id); err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			envelope.ValidationError(w, "Validation failed", verr.Details)
			return false
		}
		rlog.WithError(err).Errorln("Error 4002: cannot validate body")
		envelope.Error(w, http.StatusInternalServerError, "Internal server error")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		envelope.ValidationError(w, "Validation failed", []envelope.FieldError{{Field: "", Message: err.Error()}})
		return false
	}
	return true
}

var queryDecoder = newQueryDecoder()

func newQueryDecoder() *gschema.Decoder {
	d := gschema.NewDecoder()
	d.SetAliasTag("query")
	d.IgnoreUnknownKeys(true)
	return d
}

// decodeQuery fills the struct pointed to by v from the query parameters of the request
// and validates it. Fields are matched by their query tag, the default option supplies
// the value of missing parameters.
//
// It writes the failure response and returns false if the query is not valid.
func decodeQuery(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	values := r.URL.Query()
	details, err := conversionErrors(values, queryDecoder.Decode(v, values))
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4003: cannot decode query")
		envelope.Error(w, http.StatusInternalServerError, "Internal server error")
		return false
	}
	if len(details) == 0 {
		if err := validate.Struct(v); err != nil {
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				logger.FromContext(r.Context()).WithError(err).Errorln("Error 4003: cannot validate query")
				envelope.Error(w, http.StatusInternalServerError, "Internal server error")
				return false
			}
			for _, e := range verrs {
				details = append(details, envelope.FieldError{Field: e.Field(), Message: validationMessage(e)})
			}
		}
	}
	if len(details) > 0 {
		envelope.ValidationError(w, "Invalid query parameters", details)
		return false
	}
	return true
}

// conversionErrors turns the conversion errors of the query decoder into field errors,
// sorted by parameter. Any other decoder error is returned as is.
func conversionErrors(values url.Values, err error) ([]envelope.FieldError, error) {
	if err == nil {
		return nil, nil
	}
	var multi gschema.MultiError
	if !errors.As(err, &multi) {
		return nil, err
	}
	keys := make([]string, 0, len(multi))
	for key := range multi {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var details []envelope.FieldError
	for _, key := range keys {
		var conv gschema.ConversionError
		if !errors.As(multi[key], &conv) {
			return nil, multi[key]
		}
		expected := "value"
		switch conv.Type.Kind() {
		case reflect.Int, reflect.Int64, reflect.Int32:
			expected = "integer"
		case reflect.Bool:
			expected = "boolean"
		}
		details = append(details, envelope.FieldError{
			Field:   key,
			Message: "Expected " + expected + ", received " + strconv.Quote(values.Get(key)),
		})
	}
	return details, nil
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "Required"
	case "min":
		if e.Kind() == reflect.String {
			return "Must contain at least " + e.Param() + " character(s)"
		}
		return "Must be greater than or equal to " + e.Param()
	case "max":
		if e.Kind() == reflect.String {
			return "Must contain at most " + e.Param() + " character(s)"
		}
		return "Must be less than or equal to " + e.Param()
	case "oneof":
		return "Must be one of " + strings.ReplaceAll(e.Param(), " ", ", ")
	case "uuid":
		return "Invalid uuid"
	}
	return "Invalid value"
}

// pageQuery is the common limit/offset query of list routes
type pageQuery struct {
	Limit  int `query:"limit,default:20" validate:"min=1,max=100"`
	Offset int `query:"offset,default:0" validate:"min=0"`
}
